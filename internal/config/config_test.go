package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("CAMERAD_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("CAMERAD_FRAMERATE", "15")
	t.Setenv("CAMERAD_MOTION_GPIO", "true")
	t.Setenv("CAMERAD_DAYNIGHT_THRESHOLD_LUX", "42.5")
	t.Setenv("CAMERAD_WEBRTC_IDLE_TIMEOUT", "30s")

	cfg := FromEnv(NewDefaultConfig())

	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	require.Equal(t, 15, cfg.Capture.Framerate)
	require.True(t, cfg.Motion.GpioEnabled)
	require.Equal(t, 42.5, cfg.DayNight.AutoThresholdLux)
	require.Equal(t, 30*time.Second, cfg.WebRTC.IdleTimeout)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CAMERAD_FRAMERATE", "fast")
	t.Setenv("CAMERAD_MOTION_GPIO", "maybe")
	t.Setenv("CAMERAD_RECORDING_MAX_DURATION", "forever")

	cfg := FromEnv(NewDefaultConfig())
	def := NewDefaultConfig()

	require.Equal(t, def.Capture.Framerate, cfg.Capture.Framerate)
	require.Equal(t, def.Motion.GpioEnabled, cfg.Motion.GpioEnabled)
	require.Equal(t, def.Recording.MaxDuration, cfg.Recording.MaxDuration)
}
