// Package daynight drives the IR-cut filter GPIO from the ambient
// light sensor, with a hysteresis band so twilight flicker never
// toggles the filter back and forth.
package daynight

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/gpio"
)

// ErrInvalidMode rejects modes other than day, night and auto.
var ErrInvalidMode = errors.New("invalid day/night mode")

// Mode selects how the IR-cut filter is driven.
type Mode string

const (
	ModeDay   Mode = "day"
	ModeNight Mode = "night"
	ModeAuto  Mode = "auto"
)

// LightSensor reports ambient illuminance in lux.
type LightSensor interface {
	Lux() (float64, error)
}

// sysfsSensor reads an IIO illuminance channel.
type sysfsSensor struct {
	path string
}

func (s *sysfsSensor) Lux() (float64, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("read light sensor: %w", err)
	}
	lux, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse light sensor value: %w", err)
	}
	return lux, nil
}

// Status is the externally visible controller state.
type Status struct {
	Mode         Mode      `json:"mode"`
	Night        bool      `json:"night"`
	LastLux      float64   `json:"lastLux"`
	LastSampleAt time.Time `json:"lastSampleAt,omitempty"`
}

// Controller owns the IR-cut line and, in auto mode, the sampling loop.
type Controller struct {
	cfg    config.DayNightConfig
	sensor LightSensor
	ircut  gpio.Output
	log    *zap.SugaredLogger

	reqs chan any
	quit chan struct{}
	done chan struct{}
}

type setModeReq struct {
	mode  Mode
	reply chan setModeResp
}

type setModeResp struct {
	status Status
	err    error
}

type statusReq struct{ reply chan Status }

// New builds the controller on the real sysfs sensor and GPIO line.
func New(cfg config.DayNightConfig, log *zap.SugaredLogger) (*Controller, error) {
	ircut, err := gpio.NewOutput(cfg.IRCutPin)
	if err != nil {
		return nil, fmt.Errorf("open ir-cut gpio %d: %w", cfg.IRCutPin, err)
	}
	return newController(cfg, &sysfsSensor{path: cfg.SensorPath}, ircut, log), nil
}

func newController(cfg config.DayNightConfig, sensor LightSensor,
	ircut gpio.Output, log *zap.SugaredLogger) *Controller {
	c := &Controller{
		cfg:    cfg,
		sensor: sensor,
		ircut:  ircut,
		log:    log,
		reqs:   make(chan any),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// SetMode forces day or night, or hands control back to the sampler.
func (c *Controller) SetMode(m Mode) (Status, error) {
	req := setModeReq{mode: m, reply: make(chan setModeResp, 1)}
	if err := c.send(req); err != nil {
		return Status{}, err
	}
	resp := <-req.reply
	return resp.status, resp.err
}

// Status reports the current mode and filter position.
func (c *Controller) Status() Status {
	req := statusReq{reply: make(chan Status, 1)}
	if err := c.send(req); err != nil {
		return Status{}
	}
	return <-req.reply
}

// Close stops the loop and releases the GPIO line.
func (c *Controller) Close() {
	close(c.quit)
	<-c.done
	_ = c.ircut.Close()
}

func (c *Controller) send(req any) error {
	select {
	case c.reqs <- req:
		return nil
	case <-c.done:
		return errors.New("day/night controller closed")
	}
}

func (c *Controller) run() {
	defer close(c.done)

	st := Status{Mode: Mode(c.cfg.Mode)}
	switch st.Mode {
	case ModeDay:
		c.switchNight(&st, false)
	case ModeNight:
		c.switchNight(&st, true)
	default:
		st.Mode = ModeAuto
		c.sample(&st)
	}

	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return

		case <-ticker.C:
			if st.Mode == ModeAuto {
				c.sample(&st)
			}

		case req := <-c.reqs:
			switch r := req.(type) {
			case setModeReq:
				switch r.mode {
				case ModeDay:
					st.Mode = ModeDay
					c.switchNight(&st, false)
				case ModeNight:
					st.Mode = ModeNight
					c.switchNight(&st, true)
				case ModeAuto:
					st.Mode = ModeAuto
					c.sample(&st)
				default:
					r.reply <- setModeResp{status: st, err: ErrInvalidMode}
					continue
				}
				r.reply <- setModeResp{status: st}

			case statusReq:
				r.reply <- st
			}
		}
	}
}

func (c *Controller) sample(st *Status) {
	lux, err := c.sensor.Lux()
	if err != nil {
		c.log.Warnw("light sensor read failed", "error", err)
		return
	}
	st.LastLux = lux
	st.LastSampleAt = time.Now()

	if night := nextNight(st.Night, lux, c.cfg.AutoThresholdLux, c.cfg.HysteresisLux); night != st.Night {
		c.switchNight(st, night)
	}
}

func (c *Controller) switchNight(st *Status, night bool) {
	st.Night = night
	if err := c.ircut.Write(night); err != nil {
		c.log.Errorw("ir-cut switch failed", "night", night, "error", err)
		return
	}
	c.log.Infow("ir-cut switched", "night", night, "lux", st.LastLux, "mode", st.Mode)
}

// nextNight applies the hysteresis band: switch to night below the
// threshold, back to day only above threshold plus the band width.
func nextNight(night bool, lux, threshold, hysteresis float64) bool {
	if !night && lux < threshold {
		return true
	}
	if night && lux > threshold+hysteresis {
		return false
	}
	return night
}
