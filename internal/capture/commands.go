package capture

import (
	"fmt"
	"strings"

	"github.com/nestcam/camerad/internal/config"
)

// captureArgs builds the ffmpeg invocation that owns the device. The
// tee muxer writes the same encoded stream to the MPEG-TS fan-out and
// to the RTP leg, so downstream consumers never reopen the device.
func captureArgs(cfg config.CaptureConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", cfg.Framerate),
		"-video_size", cfg.Resolution,
		"-i", cfg.VideoDevice,
	}

	hasAudio := strings.TrimSpace(cfg.AudioDevice) != ""
	if hasAudio {
		args = append(args, "-f", "alsa", "-i", cfg.AudioDevice)
	}

	if f := rotationFilter(cfg.Rotation); f != "" {
		args = append(args, "-vf", f)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-g", fmt.Sprintf("%d", cfg.Framerate*2),
	)

	if hasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}

	tee := fmt.Sprintf("[f=mpegts]%s|[f=rtp:select=v]rtp://127.0.0.1:%d",
		cfg.FanoutURL, cfg.RTPVideoPort)
	args = append(args, "-f", "tee")
	args = append(args, "-map", "0:v")
	if hasAudio {
		args = append(args, "-map", "1:a")
	}
	args = append(args, tee)

	return args
}

// segmenterArgs builds the HLS consumer that reads the fan-out and
// rotates a fixed-size sliding window of segments.
func segmenterArgs(cfg config.CaptureConfig) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-fflags", "+genpts",
		"-i", cfg.FanoutURL,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", cfg.HLSSegmentSeconds),
		"-hls_list_size", fmt.Sprintf("%d", cfg.HLSPlaylistSize),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", cfg.HLSDir + "/segment_%05d.ts",
		cfg.HLSDir + "/index.m3u8",
	}
}

func rotationFilter(rotation int) string {
	switch rotation {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}
