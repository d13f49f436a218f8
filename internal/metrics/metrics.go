// Package metrics registers the control plane's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camerad_proc_terminate_total",
		Help: "Subprocess termination signals by signal and result.",
	}, []string{"signal", "result"})

	procWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camerad_proc_wait_total",
		Help: "Subprocess wait outcomes.",
	}, []string{"outcome"})

	captureStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camerad_capture_starts_total",
		Help: "Capture pipeline starts.",
	})

	captureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camerad_capture_failures_total",
		Help: "Capture pipeline transitions to the failed state.",
	})

	motionTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camerad_motion_triggers_total",
		Help: "Motion triggers by detection method.",
	}, []string{"method"})

	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camerad_motion_frames_total",
		Help: "Frames sampled by the frame-diff detector.",
	})

	recordingsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camerad_recordings_finalized_total",
		Help: "Recordings finalized by result.",
	}, []string{"result"})

	webrtcSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camerad_webrtc_sessions",
		Help: "Live WebRTC sessions.",
	})
)

func IncProcTerminate(signal, result string) { procTerminations.WithLabelValues(signal, result).Inc() }
func IncProcWait(outcome string)             { procWaits.WithLabelValues(outcome).Inc() }
func IncCaptureStart()                       { captureStarts.Inc() }
func IncCaptureFailure()                     { captureFailures.Inc() }
func IncMotionTrigger(method string)         { motionTriggers.WithLabelValues(method).Inc() }
func IncFrameProcessed()                     { framesProcessed.Inc() }
func IncRecordingFinalized(result string)    { recordingsFinalized.WithLabelValues(result).Inc() }
func AddWebRTCSessions(delta float64)        { webrtcSessions.Add(delta) }
