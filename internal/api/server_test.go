package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/nestcam/camerad/internal/capture"
	"github.com/nestcam/camerad/internal/catalog"
	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/daynight"
	"github.com/nestcam/camerad/internal/logging"
	"github.com/nestcam/camerad/internal/motion"
	"github.com/nestcam/camerad/internal/recorder"
	"github.com/nestcam/camerad/internal/rtc"
)

type stubCapture struct {
	sess     capture.Session
	startErr error
}

func (s *stubCapture) Start(capture.Profile) (capture.Session, error) {
	return s.sess, s.startErr
}
func (s *stubCapture) Stop() (capture.Session, error) { return s.sess, nil }
func (s *stubCapture) Status() capture.Session        { return s.sess }

type stubRecorder struct {
	startErr error
	stopErr  error
	status   recorder.Status
	clip     recorder.Clip
}

func (s *stubRecorder) Start(recorder.Trigger, time.Duration) (recorder.Status, error) {
	return s.status, s.startErr
}
func (s *stubRecorder) Stop() (recorder.Clip, error) { return s.clip, s.stopErr }
func (s *stubRecorder) Status() recorder.Status      { return s.status }

type stubMotion struct {
	armErr error
	setErr error
	st     motion.Status
}

func (s *stubMotion) Arm() error { return s.armErr }
func (s *stubMotion) Disarm()    {}
func (s *stubMotion) SetMethods(*bool, *bool) (motion.Status, error) {
	return s.st, s.setErr
}
func (s *stubMotion) Status() motion.Status { return s.st }

type stubRTC struct {
	mu       sync.Mutex
	offerID  string
	answer   string
	offerErr error
	candErr  error
	closed   []string
}

func (s *stubRTC) Offer(context.Context, string) (string, string, error) {
	return s.offerID, s.answer, s.offerErr
}
func (s *stubRTC) AddCandidate(string, webrtc.ICECandidateInit) error { return s.candErr }
func (s *stubRTC) CloseSession(id string) error {
	s.mu.Lock()
	s.closed = append(s.closed, id)
	s.mu.Unlock()
	return nil
}
func (s *stubRTC) Sessions() []rtc.SessionInfo { return nil }

func (s *stubRTC) closedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

type stubDayNight struct {
	st  daynight.Status
	err error
}

func (s *stubDayNight) SetMode(daynight.Mode) (daynight.Status, error) { return s.st, s.err }
func (s *stubDayNight) Status() daynight.Status                        { return s.st }

type stubCatalog struct {
	recs   []catalog.Recording
	getErr error
}

func (s *stubCatalog) List(context.Context, int) ([]catalog.Recording, error) {
	return s.recs, nil
}
func (s *stubCatalog) Get(_ context.Context, id string) (catalog.Recording, error) {
	if s.getErr != nil {
		return catalog.Recording{}, s.getErr
	}
	for _, r := range s.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return catalog.Recording{}, catalog.ErrNotFound
}
func (s *stubCatalog) Delete(context.Context, string) error { return nil }

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Capture == nil {
		deps.Capture = &stubCapture{}
	}
	if deps.Recorder == nil {
		deps.Recorder = &stubRecorder{}
	}
	if deps.Motion == nil {
		deps.Motion = &stubMotion{}
	}
	if deps.RTC == nil {
		deps.RTC = &stubRTC{}
	}
	if deps.DayNight == nil {
		deps.DayNight = &stubDayNight{}
	}
	if deps.Catalog == nil {
		deps.Catalog = &stubCatalog{}
	}
	srv := New(config.NewDefaultConfig(), deps, logging.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Deps{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCaptureStartReturnsSession(t *testing.T) {
	ts := newTestServer(t, Deps{Capture: &stubCapture{
		sess: capture.Session{State: capture.StateRunning, PID: 1234},
	}})

	resp, err := http.Post(ts.URL+"/api/capture/start", "application/json",
		strings.NewReader(`{"profile":"hls"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess capture.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	require.Equal(t, capture.StateRunning, sess.State)
	require.Equal(t, 1234, sess.PID)
}

func TestRecordStartConflicts(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"already recording", recorder.ErrAlreadyRecording, "already_recording"},
		{"capture down", recorder.ErrCaptureNotRunning, "capture_not_running"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, Deps{Recorder: &stubRecorder{startErr: tc.err}})

			resp, err := http.Post(ts.URL+"/api/recording/start", "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusConflict, resp.StatusCode)
			require.Equal(t, tc.code, decodeErrorCode(t, resp))
		})
	}
}

func TestRecordStopWhenIdle(t *testing.T) {
	ts := newTestServer(t, Deps{Recorder: &stubRecorder{stopErr: recorder.ErrNotRecording}})

	resp, err := http.Post(ts.URL+"/api/recording/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "not_recording", decodeErrorCode(t, resp))
}

func TestMotionMethodToggleRejection(t *testing.T) {
	ts := newTestServer(t, Deps{Motion: &stubMotion{setErr: motion.ErrNoDetectionMethod}})

	resp, err := http.Post(ts.URL+"/api/motion/method", "application/json",
		strings.NewReader(`{"method":"gpio","enabled":false}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "no_detection_method", decodeErrorCode(t, resp))
}

func TestMotionMethodUnknownName(t *testing.T) {
	ts := newTestServer(t, Deps{})

	resp, err := http.Post(ts.URL+"/api/motion/method", "application/json",
		strings.NewReader(`{"method":"sonar","enabled":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_request", decodeErrorCode(t, resp))
}

func TestIceUnknownSession(t *testing.T) {
	ts := newTestServer(t, Deps{RTC: &stubRTC{candErr: rtc.ErrUnknownSession}})

	resp, err := http.Post(ts.URL+"/api/webrtc/ice", "application/json",
		strings.NewReader(`{"sessionId":"nope","candidate":{"candidate":"candidate:1"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "unknown_session", decodeErrorCode(t, resp))
}

func TestWebRTCCloseAlwaysOk(t *testing.T) {
	rtcStub := &stubRTC{}
	ts := newTestServer(t, Deps{RTC: rtcStub})

	resp, err := http.Post(ts.URL+"/api/webrtc/close", "application/json",
		strings.NewReader(`{"sessionId":"never-issued"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"never-issued"}, rtcStub.closedIDs())
}

func TestGetRecordingNotFound(t *testing.T) {
	ts := newTestServer(t, Deps{Catalog: &stubCatalog{}})

	resp, err := http.Get(ts.URL + "/api/recordings/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "not_found", decodeErrorCode(t, resp))
}

func TestDayNightModeValidation(t *testing.T) {
	ts := newTestServer(t, Deps{DayNight: &stubDayNight{err: daynight.ErrInvalidMode}})

	resp, err := http.Post(ts.URL+"/api/daynight/mode", "application/json",
		strings.NewReader(`{"mode":"dusk"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_mode", decodeErrorCode(t, resp))
}

func TestWSOfferAndCleanup(t *testing.T) {
	rtcStub := &stubRTC{offerID: "sess-1", answer: "v=0 answer"}
	ts := newTestServer(t, Deps{RTC: rtcStub})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/webrtc/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "offer",
		"params":  map[string]string{"sdp": "v=0 offer"},
	}))

	var reply struct {
		ID     int64 `json:"id"`
		Result struct {
			SessionID string `json:"sessionId"`
			SDP       string `json:"sdp"`
		} `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "sess-1", reply.Result.SessionID)
	require.Equal(t, "v=0 answer", reply.Result.SDP)

	// Dropping the socket reaps the sessions it negotiated.
	conn.Close()
	require.Eventually(t, func() bool {
		ids := rtcStub.closedIDs()
		return len(ids) == 1 && ids[0] == "sess-1"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWSUnknownMethod(t *testing.T) {
	ts := newTestServer(t, Deps{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/webrtc/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "bogus",
	}))

	var reply struct {
		Error *struct {
			Code    int64  `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	require.NotNil(t, reply.Error)
}
