// Package config holds all camerad configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr string

	Capture   CaptureConfig
	Motion    MotionConfig
	Recording RecordingConfig
	WebRTC    WebRTCConfig
	DayNight  DayNightConfig
	Catalog   CatalogConfig
	Upload    UploadConfig
}

// CaptureConfig describes the single hardware capture pipeline and its
// local fan-out. The device is opened exactly once, by the capture
// supervisor; every other consumer reads FanoutURL.
type CaptureConfig struct {
	FFmpegBin   string
	VideoDevice string
	AudioDevice string // empty disables the audio track
	Resolution  string
	Framerate   int
	Rotation    int

	// FanoutURL is the local MPEG-TS relay all consumers attach to.
	FanoutURL string
	// RTPVideoPort receives the H.264 RTP leg consumed by the WebRTC bridge.
	RTPVideoPort int

	HLSDir            string
	HLSSegmentSeconds int
	HLSPlaylistSize   int

	StartTimeout    time.Duration
	StopGrace       time.Duration
	StderrTailLines int
}

// MotionConfig tunes the two detection methods and the trigger state machine.
type MotionConfig struct {
	FrameDiffEnabled bool
	GpioEnabled      bool

	SensorPin      int
	Threshold      int     // pixel delta threshold for frame differencing
	MinContourArea float64 // ignore contours smaller than this
	SampleInterval time.Duration

	DurationSeconds int // minimum length of a motion recording
	CooldownSeconds int
	SnapshotDir     string
}

// RecordingConfig describes on-demand and motion-triggered recordings.
type RecordingConfig struct {
	Dir         string
	Prefix      string
	MaxDuration time.Duration // hard cap enforced by the encoder itself
	StopGrace   time.Duration
}

// WebRTCConfig covers peer negotiation and the optional embedded TURN server.
type WebRTCConfig struct {
	STUNServers []string
	IdleTimeout time.Duration

	TURNEnabled  bool
	TURNPort     int
	TURNRealm    string
	TURNPublicIP string
	TURNUsers    string // "user=pass user2=pass2"
}

// DayNightConfig drives the IR-cut GPIO from the ambient light sensor.
type DayNightConfig struct {
	Mode             string // day, night or auto
	AutoThresholdLux float64
	// HysteresisLux widens the switch-back bound: night below
	// AutoThresholdLux, day above AutoThresholdLux+HysteresisLux.
	HysteresisLux  float64
	SampleInterval time.Duration
	IRCutPin       int
	SensorPath     string
}

// CatalogConfig locates the media catalog database.
type CatalogConfig struct {
	Driver string
	DSN    string
}

// UploadConfig enables pushing finalized recordings to S3-compatible storage.
type UploadConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr: "0.0.0.0:8080",
		Capture: CaptureConfig{
			FFmpegBin:         "ffmpeg",
			VideoDevice:       "/dev/video0",
			Resolution:        "1280x720",
			Framerate:         30,
			FanoutURL:         "udp://127.0.0.1:5004?pkt_size=1316&reuse=1&overrun_nonfatal=1&fifo_size=5000000",
			RTPVideoPort:      5006,
			HLSDir:            "data/hls",
			HLSSegmentSeconds: 3,
			HLSPlaylistSize:   6,
			StartTimeout:      10 * time.Second,
			StopGrace:         5 * time.Second,
			StderrTailLines:   40,
		},
		Motion: MotionConfig{
			FrameDiffEnabled: true,
			GpioEnabled:      false,
			SensorPin:        22,
			Threshold:        25,
			MinContourArea:   35,
			SampleInterval:   400 * time.Millisecond,
			DurationSeconds:  10,
			CooldownSeconds:  5,
			SnapshotDir:      "data/motion",
		},
		Recording: RecordingConfig{
			Dir:         "data/videos",
			Prefix:      "nest_",
			MaxDuration: 15 * time.Minute,
			StopGrace:   10 * time.Second,
		},
		WebRTC: WebRTCConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			IdleTimeout: 90 * time.Second,
			TURNPort:    3478,
			TURNRealm:   "camerad",
		},
		DayNight: DayNightConfig{
			Mode:             "auto",
			AutoThresholdLux: 50,
			HysteresisLux:    10,
			SampleInterval:   60 * time.Second,
			IRCutPin:         17,
			SensorPath:       "/sys/bus/iio/devices/iio:device0/in_illuminance_input",
		},
		Catalog: CatalogConfig{
			Driver: "sqlite",
			DSN:    "data/catalog.db",
		},
		Upload: UploadConfig{
			Bucket: "recordings",
		},
	}
}

// FromEnv overlays CAMERAD_* environment variables onto cfg and returns it.
func FromEnv(cfg *Config) *Config {
	envString("CAMERAD_LISTEN_ADDR", &cfg.ListenAddr)

	envString("CAMERAD_FFMPEG_BIN", &cfg.Capture.FFmpegBin)
	envString("CAMERAD_VIDEO_DEVICE", &cfg.Capture.VideoDevice)
	envString("CAMERAD_AUDIO_DEVICE", &cfg.Capture.AudioDevice)
	envString("CAMERAD_RESOLUTION", &cfg.Capture.Resolution)
	envInt("CAMERAD_FRAMERATE", &cfg.Capture.Framerate)
	envInt("CAMERAD_ROTATION", &cfg.Capture.Rotation)
	envString("CAMERAD_FANOUT_URL", &cfg.Capture.FanoutURL)
	envInt("CAMERAD_RTP_VIDEO_PORT", &cfg.Capture.RTPVideoPort)
	envString("CAMERAD_HLS_DIR", &cfg.Capture.HLSDir)
	envInt("CAMERAD_HLS_SEGMENT_SECONDS", &cfg.Capture.HLSSegmentSeconds)
	envInt("CAMERAD_HLS_PLAYLIST_SIZE", &cfg.Capture.HLSPlaylistSize)

	envBool("CAMERAD_MOTION_FRAMEDIFF", &cfg.Motion.FrameDiffEnabled)
	envBool("CAMERAD_MOTION_GPIO", &cfg.Motion.GpioEnabled)
	envInt("CAMERAD_MOTION_SENSOR_PIN", &cfg.Motion.SensorPin)
	envInt("CAMERAD_MOTION_THRESHOLD", &cfg.Motion.Threshold)
	envInt("CAMERAD_MOTION_DURATION_S", &cfg.Motion.DurationSeconds)
	envInt("CAMERAD_MOTION_COOLDOWN_S", &cfg.Motion.CooldownSeconds)
	envString("CAMERAD_SNAPSHOT_DIR", &cfg.Motion.SnapshotDir)

	envString("CAMERAD_RECORDING_DIR", &cfg.Recording.Dir)
	envString("CAMERAD_RECORDING_PREFIX", &cfg.Recording.Prefix)
	envDuration("CAMERAD_RECORDING_MAX_DURATION", &cfg.Recording.MaxDuration)

	envDuration("CAMERAD_WEBRTC_IDLE_TIMEOUT", &cfg.WebRTC.IdleTimeout)
	envBool("CAMERAD_TURN_ENABLED", &cfg.WebRTC.TURNEnabled)
	envInt("CAMERAD_TURN_PORT", &cfg.WebRTC.TURNPort)
	envString("CAMERAD_TURN_REALM", &cfg.WebRTC.TURNRealm)
	envString("CAMERAD_TURN_PUBLIC_IP", &cfg.WebRTC.TURNPublicIP)
	envString("CAMERAD_TURN_USERS", &cfg.WebRTC.TURNUsers)

	envString("CAMERAD_DAYNIGHT_MODE", &cfg.DayNight.Mode)
	envFloat("CAMERAD_DAYNIGHT_THRESHOLD_LUX", &cfg.DayNight.AutoThresholdLux)
	envFloat("CAMERAD_DAYNIGHT_HYSTERESIS_LUX", &cfg.DayNight.HysteresisLux)
	envDuration("CAMERAD_DAYNIGHT_INTERVAL", &cfg.DayNight.SampleInterval)
	envInt("CAMERAD_IRCUT_PIN", &cfg.DayNight.IRCutPin)
	envString("CAMERAD_LIGHT_SENSOR_PATH", &cfg.DayNight.SensorPath)

	envString("CAMERAD_CATALOG_DRIVER", &cfg.Catalog.Driver)
	envString("CAMERAD_CATALOG_DSN", &cfg.Catalog.DSN)

	envBool("CAMERAD_UPLOAD_ENABLED", &cfg.Upload.Enabled)
	envString("CAMERAD_UPLOAD_ENDPOINT", &cfg.Upload.Endpoint)
	envString("CAMERAD_UPLOAD_ACCESS_KEY", &cfg.Upload.AccessKey)
	envString("CAMERAD_UPLOAD_SECRET_KEY", &cfg.Upload.SecretKey)
	envString("CAMERAD_UPLOAD_BUCKET", &cfg.Upload.Bucket)
	envBool("CAMERAD_UPLOAD_USE_SSL", &cfg.Upload.UseSSL)

	return cfg
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		switch v {
		case "1", "true", "True", "yes", "Yes":
			*dst = true
		case "0", "false", "False", "no", "No":
			*dst = false
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
