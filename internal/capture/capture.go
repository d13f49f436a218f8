// Package capture owns the single hardware capture pipeline.
//
// Exactly one ffmpeg process opens the camera (and microphone, when
// configured). It republishes the encoded feed to a local MPEG-TS
// fan-out address plus an RTP leg for the WebRTC bridge. A second,
// supervised ffmpeg consumes the fan-out and writes the sliding-window
// HLS playlist. Every other component attaches to the fan-out and never
// touches the device, which is what keeps the device from ever being
// opened twice.
package capture

import (
	"errors"
	"time"
)

// State is the capture pipeline lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// Profile selects the transport profile recorded on the session.
type Profile string

const (
	ProfileHLS        Profile = "hls"
	ProfileLowLatency Profile = "low-latency"
)

// Session is the externally visible capture session descriptor.
type Session struct {
	State         State     `json:"state"`
	Profile       Profile   `json:"profile,omitempty"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"startedAt,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	PlaylistFresh bool      `json:"playlistFresh"`
}

// ErrNotRunning is returned to consumers that require a live feed.
var ErrNotRunning = errors.New("capture not running")

// ErrDeviceUnavailable wraps spawn failures of the capture process.
var ErrDeviceUnavailable = errors.New("capture device unavailable")
