package motion

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/metrics"
)

var errStreamRead = errors.New("frame read from stream failed")

// frameDiffDetector samples the fan-out stream and fires on frame
// differences: grayscale, blur, absolute diff against the previous
// frame, threshold, dilate, then contour areas above the minimum.
type frameDiffDetector struct {
	cfg    config.MotionConfig
	source string
	fire   func(method string)
	log    *zap.SugaredLogger
}

func newFrameDiffDetector(cfg config.MotionConfig, source string,
	fire func(string), log *zap.SugaredLogger) *frameDiffDetector {
	return &frameDiffDetector{cfg: cfg, source: source, fire: fire, log: log}
}

// run keeps the detector attached to the stream until ctx ends,
// reconnecting with exponential backoff when the source drops.
func (d *frameDiffDetector) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		err := d.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		d.log.Warnw("frame-diff stream lost, reconnecting",
			"source", d.source, "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (d *frameDiffDetector) watch(ctx context.Context) error {
	stream, err := gocv.OpenVideoCapture(d.source)
	if err != nil {
		return err
	}
	defer stream.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	prev := gocv.NewMat()
	defer prev.Close()
	delta := gocv.NewMat()
	defer delta.Close()
	thresh := gocv.NewMat()
	defer thresh.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	ticker := time.NewTicker(d.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if ok := stream.Read(&frame); !ok || frame.Empty() {
			return errStreamRead
		}
		metrics.IncFrameProcessed()

		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		gocv.GaussianBlur(gray, &gray, image.Pt(21, 21), 0, 0, gocv.BorderDefault)

		if prev.Empty() {
			gray.CopyTo(&prev)
			continue
		}

		gocv.AbsDiff(prev, gray, &delta)
		gocv.Threshold(delta, &thresh, float32(d.cfg.Threshold), 255, gocv.ThresholdBinary)
		gocv.Dilate(thresh, &thresh, kernel)

		moved := false
		contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
		for i := 0; i < contours.Size(); i++ {
			if gocv.ContourArea(contours.At(i)) >= d.cfg.MinContourArea {
				moved = true
				break
			}
		}
		contours.Close()

		gray.CopyTo(&prev)

		if moved {
			d.snapshot(frame)
			d.fire("framediff")
		}
	}
}

// snapshot keeps a still of the triggering frame next to the clip.
func (d *frameDiffDetector) snapshot(frame gocv.Mat) {
	if d.cfg.SnapshotDir == "" {
		return
	}
	if err := os.MkdirAll(d.cfg.SnapshotDir, 0o775); err != nil {
		d.log.Warnw("snapshot dir unavailable", "error", err)
		return
	}
	path := filepath.Join(d.cfg.SnapshotDir,
		"motion_"+time.Now().Format("20060102_150405")+".jpg")
	if ok := gocv.IMWrite(path, frame); !ok {
		d.log.Warnw("snapshot write failed", "path", path)
	}
}
