// Package api exposes the HTTP control surface: capture and recording
// control, motion arming, WebRTC signaling (HTTP and WebSocket), the
// HLS window, the media catalog and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/capture"
	"github.com/nestcam/camerad/internal/catalog"
	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/daynight"
	"github.com/nestcam/camerad/internal/motion"
	"github.com/nestcam/camerad/internal/recorder"
	"github.com/nestcam/camerad/internal/rtc"
)

// Capture is the slice of the capture supervisor the API drives.
type Capture interface {
	Start(profile capture.Profile) (capture.Session, error)
	Stop() (capture.Session, error)
	Status() capture.Session
}

// Recorder is the slice of the recording controller the API drives.
type Recorder interface {
	Start(trigger recorder.Trigger, maxLen time.Duration) (recorder.Status, error)
	Stop() (recorder.Clip, error)
	Status() recorder.Status
}

// Motion is the slice of the motion engine the API drives.
type Motion interface {
	Arm() error
	Disarm()
	SetMethods(frameDiff, gpioSensor *bool) (motion.Status, error)
	Status() motion.Status
}

// Signaling is the slice of the WebRTC bridge the API drives.
type Signaling interface {
	Offer(ctx context.Context, sdp string) (id, answer string, err error)
	AddCandidate(id string, cand webrtc.ICECandidateInit) error
	CloseSession(id string) error
	Sessions() []rtc.SessionInfo
}

// DayNight is the slice of the day/night controller the API drives.
type DayNight interface {
	SetMode(m daynight.Mode) (daynight.Status, error)
	Status() daynight.Status
}

// Catalog is the slice of the media catalog the API reads.
type Catalog interface {
	List(ctx context.Context, limit int) ([]catalog.Recording, error)
	Get(ctx context.Context, id string) (catalog.Recording, error)
	Delete(ctx context.Context, id string) error
}

// Deps bundles everything the server fronts.
type Deps struct {
	Capture  Capture
	Recorder Recorder
	Motion   Motion
	RTC      Signaling
	DayNight DayNight
	Catalog  Catalog
}

// Server is the HTTP control plane.
type Server struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	deps     Deps
	router   chi.Router
	upgrader websocket.Upgrader
}

// New wires the routes. The returned server is ready to serve.
func New(cfg *config.Config, deps Deps, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:  cfg,
		log:  log,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The enclosure serves a single trusted LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)

	r.Route("/api/capture", func(r chi.Router) {
		r.Post("/start", s.handleCaptureStart)
		r.Post("/stop", s.handleCaptureStop)
		r.Get("/status", s.handleCaptureStatus)
	})

	r.Route("/api/recording", func(r chi.Router) {
		r.Post("/start", s.handleRecordStart)
		r.Post("/stop", s.handleRecordStop)
		r.Get("/status", s.handleRecordStatus)
	})

	// Catalog views over finalized recordings.
	r.Route("/api/recordings", func(r chi.Router) {
		r.Get("/", s.handleListRecordings)
		r.Get("/{id}", s.handleGetRecording)
		r.Get("/{id}/download", s.handleDownloadRecording)
		r.Delete("/{id}", s.handleDeleteRecording)
	})

	r.Route("/api/motion", func(r chi.Router) {
		r.Post("/start", s.handleMotionStart)
		r.Post("/stop", s.handleMotionStop)
		r.Get("/status", s.handleMotionStatus)
		r.Post("/method", s.handleMotionMethod)
	})

	r.Route("/api/webrtc", func(r chi.Router) {
		r.Post("/offer", s.handleOffer)
		r.Post("/ice", s.handleIce)
		r.Post("/close", s.handleSessionClose)
		r.Get("/sessions", s.handleSessions)
		r.Get("/ws", s.handleWS)
	})

	r.Get("/api/daynight/status", s.handleDayNightStatus)
	r.Post("/api/daynight/mode", s.handleDayNightMode)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/hls/*", http.StripPrefix("/hls/",
		http.FileServer(http.Dir(s.cfg.Capture.HLSDir))))

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("write response", "error", err)
	}
}

// writeError maps domain sentinels onto stable error codes clients can
// branch on.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, status := "internal", http.StatusInternalServerError
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording):
		code, status = "already_recording", http.StatusConflict
	case errors.Is(err, recorder.ErrCaptureNotRunning),
		errors.Is(err, rtc.ErrCaptureNotRunning):
		code, status = "capture_not_running", http.StatusConflict
	case errors.Is(err, recorder.ErrNotRecording):
		code, status = "not_recording", http.StatusConflict
	case errors.Is(err, motion.ErrNoDetectionMethod):
		code, status = "no_detection_method", http.StatusBadRequest
	case errors.Is(err, rtc.ErrUnknownSession):
		code, status = "unknown_session", http.StatusNotFound
	case errors.Is(err, catalog.ErrNotFound):
		code, status = "not_found", http.StatusNotFound
	case errors.Is(err, capture.ErrDeviceUnavailable):
		code, status = "device_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, daynight.ErrInvalidMode):
		code, status = "invalid_mode", http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "error", err)
	}
	s.writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: msg})
}
