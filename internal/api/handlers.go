package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v4"

	"github.com/nestcam/camerad/internal/capture"
	"github.com/nestcam/camerad/internal/daynight"
	"github.com/nestcam/camerad/internal/recorder"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"capture":   s.deps.Capture.Status(),
		"recording": s.deps.Recorder.Status(),
		"motion":    s.deps.Motion.Status(),
		"webrtc":    s.deps.RTC.Sessions(),
	}
	if s.deps.DayNight != nil {
		status["daynight"] = s.deps.DayNight.Status()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Profile capture.Profile `json:"profile"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.badRequest(w, "malformed body")
			return
		}
	}
	sess, err := s.deps.Capture.Start(body.Profile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Capture.Stop()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Capture.Status())
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Recorder.Start(recorder.TriggerManual, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	clip, err := s.deps.Recorder.Stop()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, clip)
}

func (s *Server) handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Recorder.Status())
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Catalog.List(r.Context(), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDownloadRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, rec.Path)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMotionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Motion.Arm(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Motion.Status())
}

func (s *Server) handleMotionStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Motion.Disarm()
	s.writeJSON(w, http.StatusOK, s.deps.Motion.Status())
}

func (s *Server) handleMotionStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Motion.Status())
}

// handleMotionMethod toggles one detection method. The engine applies
// the toggle atomically and rejects one that would disable both.
func (s *Server) handleMotionMethod(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Method  string `json:"method"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "malformed body")
		return
	}

	var frameDiff, gpioSensor *bool
	switch body.Method {
	case "framediff":
		frameDiff = &body.Enabled
	case "gpio":
		gpioSensor = &body.Enabled
	default:
		s.badRequest(w, "unknown method "+body.Method)
		return
	}

	st, err := s.deps.Motion.SetMethods(frameDiff, gpioSensor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SDP string `json:"sdp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SDP == "" {
		s.badRequest(w, "offer sdp required")
		return
	}
	id, answer, err := s.deps.RTC.Offer(r.Context(), body.SDP)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "sdp": answer})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.RTC.Sessions())
}

func (s *Server) handleIce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string                  `json:"sessionId"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		s.badRequest(w, "malformed candidate")
		return
	}
	if err := s.deps.RTC.AddCandidate(body.SessionID, body.Candidate); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSessionClose always succeeds: closing an unknown or already
// reaped session is not an error.
func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		s.badRequest(w, "session id required")
		return
	}
	if err := s.deps.RTC.CloseSession(body.SessionID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDayNightStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.DayNight == nil {
		s.dayNightDisabled(w)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.DayNight.Status())
}

func (s *Server) handleDayNightMode(w http.ResponseWriter, r *http.Request) {
	if s.deps.DayNight == nil {
		s.dayNightDisabled(w)
		return
	}
	var body struct {
		Mode daynight.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "malformed body")
		return
	}
	st, err := s.deps.DayNight.SetMode(body.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) dayNightDisabled(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error: "daynight_disabled", Message: "no ir-cut line on this host",
	})
}
