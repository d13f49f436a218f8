package motion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/gpio"
)

// runPIR watches the PIR sensor line and fires on rising edges.
func runPIR(ctx context.Context, cfg config.MotionConfig, fire func(string), log *zap.SugaredLogger) {
	in, err := gpio.NewInput(cfg.SensorPin)
	if err != nil {
		log.Errorw("pir sensor unavailable", "pin", cfg.SensorPin, "error", err)
		return
	}
	defer in.Close()

	watchPIR(ctx, in, cfg.SampleInterval, fire, log)
}

// watchPIR blocks on the line's edge interrupt and confirms each wakeup
// with a level read; the interval doubles as the wakeup timeout so a
// pin whose edge reporting is broken degrades to polling cadence. A pin
// where the edge wait errors outright falls back to pollPIR for good.
func watchPIR(ctx context.Context, in gpio.Input, interval time.Duration,
	fire func(string), log *zap.SugaredLogger) {
	last := false
	for ctx.Err() == nil {
		if _, err := in.WaitEdge(interval); err != nil {
			log.Warnw("pir edge wait unavailable, polling instead", "error", err)
			pollPIR(ctx, in, interval, fire, log)
			return
		}
		high, err := in.Read()
		if err != nil {
			log.Warnw("pir read failed", "error", err)
			continue
		}
		if high && !last {
			fire("gpio")
		}
		last = high
	}
}

// pollPIR samples the line at the configured interval. Firing only on
// the low-to-high transition debounces a sensor that holds its output
// high for the length of the detection.
func pollPIR(ctx context.Context, in gpio.Input, interval time.Duration,
	fire func(string), log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		high, err := in.Read()
		if err != nil {
			log.Warnw("pir read failed", "error", err)
			continue
		}
		if high && !last {
			fire("gpio")
		}
		last = high
	}
}
