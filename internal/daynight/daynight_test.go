package daynight

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/logging"
)

type fakeSensor struct {
	mu  sync.Mutex
	lux float64
}

func (f *fakeSensor) set(lux float64) {
	f.mu.Lock()
	f.lux = lux
	f.mu.Unlock()
}

func (f *fakeSensor) Lux() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lux, nil
}

type fakeIRCut struct {
	mu     sync.Mutex
	writes []bool
}

func (f *fakeIRCut) Write(high bool) error {
	f.mu.Lock()
	f.writes = append(f.writes, high)
	f.mu.Unlock()
	return nil
}

func (f *fakeIRCut) Close() error { return nil }

func (f *fakeIRCut) history() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes...)
}

func testDNConfig(mode string) config.DayNightConfig {
	return config.DayNightConfig{
		Mode:             mode,
		AutoThresholdLux: 50,
		HysteresisLux:    10,
		SampleInterval:   5 * time.Millisecond,
	}
}

func TestNextNightHysteresis(t *testing.T) {
	// Dusk then dawn: flips to night at 40, and only back to day once
	// the reading clears threshold+hysteresis.
	night := false
	transitions := []bool{}
	for _, lux := range []float64{80, 60, 40, 30, 55, 70} {
		next := nextNight(night, lux, 50, 10)
		if next != night {
			transitions = append(transitions, next)
		}
		night = next
	}
	require.Equal(t, []bool{true, false}, transitions)
}

func TestAutoModeDrivesIRCut(t *testing.T) {
	sensor := &fakeSensor{lux: 80}
	ircut := &fakeIRCut{}
	c := newController(testDNConfig("auto"), sensor, ircut, logging.Nop())
	defer c.Close()

	require.Eventually(t, func() bool {
		st := c.Status()
		return st.Mode == ModeAuto && st.LastLux == 80 && !st.Night
	}, time.Second, 5*time.Millisecond)

	sensor.set(30)
	require.Eventually(t, func() bool { return c.Status().Night }, time.Second, 5*time.Millisecond)

	// 55 is inside the band: still night.
	sensor.set(55)
	time.Sleep(50 * time.Millisecond)
	require.True(t, c.Status().Night)

	sensor.set(70)
	require.Eventually(t, func() bool { return !c.Status().Night }, time.Second, 5*time.Millisecond)

	hist := ircut.history()
	require.Equal(t, []bool{true, false}, hist)
}

func TestManualModeSuspendsSampling(t *testing.T) {
	sensor := &fakeSensor{lux: 80}
	ircut := &fakeIRCut{}
	c := newController(testDNConfig("auto"), sensor, ircut, logging.Nop())
	defer c.Close()

	st, err := c.SetMode(ModeNight)
	require.NoError(t, err)
	require.True(t, st.Night)

	// Bright readings must not flip a forced night mode.
	sensor.set(500)
	time.Sleep(50 * time.Millisecond)
	require.True(t, c.Status().Night)
	require.Equal(t, ModeNight, c.Status().Mode)

	st, err = c.SetMode(ModeAuto)
	require.NoError(t, err)
	require.Equal(t, ModeAuto, st.Mode)
	require.False(t, st.Night) // immediate sample at 500 lux
}

func TestSetModeRejectsUnknown(t *testing.T) {
	c := newController(testDNConfig("day"), &fakeSensor{}, &fakeIRCut{}, logging.Nop())
	defer c.Close()

	_, err := c.SetMode(Mode("dusk"))
	require.ErrorIs(t, err, ErrInvalidMode)
}
