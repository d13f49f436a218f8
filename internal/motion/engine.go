// Package motion fuses the two detection methods (frame differencing
// on the fan-out stream and a PIR sensor on GPIO) into one trigger
// state machine that drives motion recordings.
package motion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/metrics"
	"github.com/nestcam/camerad/internal/recorder"
)

// ErrNoDetectionMethod rejects arming, or a toggle, that would leave
// the engine with nothing to detect with.
var ErrNoDetectionMethod = errors.New("no detection method enabled")

// State is the trigger state machine position.
type State string

const (
	StateDisarmed  State = "disarmed"
	StateArmed     State = "armed"
	StateTriggered State = "triggered"
	StateCooldown  State = "cooldown"
)

// Status is the externally visible engine state.
type Status struct {
	State         State     `json:"state"`
	FrameDiff     bool      `json:"frameDiff"`
	GpioSensor    bool      `json:"gpioSensor"`
	LastMethod    string    `json:"lastMethod,omitempty"`
	LastTriggerAt time.Time `json:"lastTriggerAt,omitempty"`
}

// Recorder is the slice of the recording controller the engine drives.
type Recorder interface {
	Start(trigger recorder.Trigger, maxLen time.Duration) (recorder.Status, error)
	Stop() (recorder.Clip, error)
}

// Engine owns the detectors and the armed/triggered/cooldown cycle.
type Engine struct {
	cfg config.MotionConfig
	rec Recorder
	log *zap.SugaredLogger

	reqs     chan any
	triggers chan string
	quit     chan struct{}
	done     chan struct{}

	// startDetectors launches the enabled detectors under ctx; swapped
	// in tests so no camera stream or sysfs pin is needed.
	startDetectors func(ctx context.Context, cfg config.MotionConfig, fire func(method string))
}

type armReq struct{ reply chan error }

type disarmReq struct{ reply chan struct{} }

type statusReq struct{ reply chan Status }

type setMethodsReq struct {
	frameDiff  *bool
	gpioSensor *bool
	reply      chan setMethodsResp
}

type setMethodsResp struct {
	status Status
	err    error
}

// New creates the engine and starts its control loop. fanoutURL is
// where the frame-diff detector reads the encoded feed.
func New(cfg config.MotionConfig, fanoutURL string, rec Recorder, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		cfg:      cfg,
		rec:      rec,
		log:      log,
		reqs:     make(chan any),
		triggers: make(chan string, 8),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.startDetectors = func(ctx context.Context, cfg config.MotionConfig, fire func(string)) {
		if cfg.FrameDiffEnabled {
			go newFrameDiffDetector(cfg, fanoutURL, fire, log).run(ctx)
		}
		if cfg.GpioEnabled {
			go runPIR(ctx, cfg, fire, log)
		}
	}
	go e.run()
	return e
}

// Arm enables detection. At least one method must be enabled.
func (e *Engine) Arm() error {
	req := armReq{reply: make(chan error, 1)}
	if err := e.send(req); err != nil {
		return err
	}
	return <-req.reply
}

// Disarm stops detection and any in-flight motion recording.
func (e *Engine) Disarm() {
	req := disarmReq{reply: make(chan struct{}, 1)}
	if err := e.send(req); err != nil {
		return
	}
	<-req.reply
}

// SetMethods toggles detection methods. A nil pointer leaves that
// method unchanged. The toggle is atomic: if the result would disable
// both methods nothing changes and ErrNoDetectionMethod is returned.
func (e *Engine) SetMethods(frameDiff, gpioSensor *bool) (Status, error) {
	req := setMethodsReq{frameDiff: frameDiff, gpioSensor: gpioSensor,
		reply: make(chan setMethodsResp, 1)}
	if err := e.send(req); err != nil {
		return Status{}, err
	}
	resp := <-req.reply
	return resp.status, resp.err
}

// Status reports the current state machine position.
func (e *Engine) Status() Status {
	req := statusReq{reply: make(chan Status, 1)}
	if err := e.send(req); err != nil {
		return Status{State: StateDisarmed}
	}
	return <-req.reply
}

// Close disarms and stops the control loop.
func (e *Engine) Close() {
	close(e.quit)
	<-e.done
}

func (e *Engine) send(req any) error {
	select {
	case e.reqs <- req:
		return nil
	case <-e.done:
		return errors.New("motion engine closed")
	}
}

func (e *Engine) run() {
	defer close(e.done)

	st := Status{
		State:      StateDisarmed,
		FrameDiff:  e.cfg.FrameDiffEnabled,
		GpioSensor: e.cfg.GpioEnabled,
	}

	var detCancel context.CancelFunc
	var recDone, coolDone <-chan time.Time

	// ownRecording is true only while a recording this engine started
	// is running. A trigger that lands while a manual recording is
	// active still cycles the state machine, but the engine must never
	// stop a recording it does not own.
	ownRecording := false

	fire := func(method string) {
		select {
		case e.triggers <- method:
		default: // already saturated, drop
		}
	}

	launch := func() {
		ctx, cancel := context.WithCancel(context.Background())
		detCancel = cancel
		cfg := e.cfg
		cfg.FrameDiffEnabled = st.FrameDiff
		cfg.GpioEnabled = st.GpioSensor
		e.startDetectors(ctx, cfg, fire)
	}
	halt := func() {
		if detCancel != nil {
			detCancel()
			detCancel = nil
		}
	}

	recLen := time.Duration(e.cfg.DurationSeconds) * time.Second
	cooldown := time.Duration(e.cfg.CooldownSeconds) * time.Second

	for {
		select {
		case <-e.quit:
			halt()
			if ownRecording {
				_, _ = e.rec.Stop()
			}
			return

		case method := <-e.triggers:
			if st.State != StateArmed {
				continue // cooldown guard: triggers outside Armed are dropped
			}
			st.State = StateTriggered
			st.LastMethod = method
			st.LastTriggerAt = time.Now()
			metrics.IncMotionTrigger(method)
			e.log.Infow("motion trigger", "method", method)

			if _, err := e.rec.Start(recorder.TriggerMotion, recLen); err != nil {
				e.log.Warnw("motion recording not started", "error", err)
			} else {
				ownRecording = true
			}
			recDone = time.After(recLen)

		case <-recDone:
			recDone = nil
			if st.State != StateTriggered {
				continue
			}
			if ownRecording {
				ownRecording = false
				if _, err := e.rec.Stop(); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
					e.log.Warnw("stop motion recording", "error", err)
				}
			}
			st.State = StateCooldown
			coolDone = time.After(cooldown)

		case <-coolDone:
			coolDone = nil
			if st.State == StateCooldown {
				st.State = StateArmed
			}

		case req := <-e.reqs:
			switch r := req.(type) {
			case armReq:
				if st.State != StateDisarmed {
					r.reply <- nil
					continue
				}
				if !st.FrameDiff && !st.GpioSensor {
					r.reply <- ErrNoDetectionMethod
					continue
				}
				launch()
				st.State = StateArmed
				e.log.Infow("motion detection armed",
					"frameDiff", st.FrameDiff, "gpio", st.GpioSensor)
				r.reply <- nil

			case disarmReq:
				halt()
				recDone, coolDone = nil, nil
				if ownRecording {
					ownRecording = false
					_, _ = e.rec.Stop()
				}
				st.State = StateDisarmed
				e.log.Infow("motion detection disarmed")
				r.reply <- struct{}{}

			case setMethodsReq:
				fd, gp := st.FrameDiff, st.GpioSensor
				if r.frameDiff != nil {
					fd = *r.frameDiff
				}
				if r.gpioSensor != nil {
					gp = *r.gpioSensor
				}
				if !fd && !gp {
					r.reply <- setMethodsResp{status: st, err: ErrNoDetectionMethod}
					continue
				}
				st.FrameDiff, st.GpioSensor = fd, gp
				if st.State != StateDisarmed {
					halt()
					launch()
				}
				r.reply <- setMethodsResp{status: st}

			case statusReq:
				r.reply <- st
			}
		}
	}
}
