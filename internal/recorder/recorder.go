// Package recorder captures clips from the running feed. It never
// opens the camera device: each recording is one ffmpeg child reading
// the local fan-out, so recording is only possible while the capture
// pipeline is up.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/metrics"
	"github.com/nestcam/camerad/internal/proc"
)

var (
	ErrAlreadyRecording  = errors.New("a recording is already in progress")
	ErrNotRecording      = errors.New("no recording in progress")
	ErrCaptureNotRunning = errors.New("capture pipeline is not running")

	errControlTimeout = errors.New("recorder control loop timed out")
)

// Trigger identifies what started a recording.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerMotion Trigger = "motion"
)

// Clip describes a finalized recording on disk. Every recording
// finalizes, even when the feed died underneath it; Truncated marks
// clips that ended early.
type Clip struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	TriggeredBy string    `json:"triggeredBy"`
	Duration    float64   `json:"durationSeconds"`
	SizeBytes   int64     `json:"sizeBytes"`
	Truncated   bool      `json:"truncated"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Status is the externally visible recorder state.
type Status struct {
	Recording   bool      `json:"recording"`
	ID          string    `json:"id,omitempty"`
	Path        string    `json:"path,omitempty"`
	TriggeredBy string    `json:"triggeredBy,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// Feed is the slice of the capture supervisor the recorder needs: a
// liveness gate and the feed-down broadcast.
type Feed interface {
	Running() bool
	Subscribe() <-chan struct{}
}

// Controller serializes recording lifecycle through a control loop.
type Controller struct {
	cfg    config.RecordingConfig
	capCfg config.CaptureConfig
	feed   Feed
	log    *zap.SugaredLogger

	reqs  chan any
	exits chan jobExit
	quit  chan struct{}
	done  chan struct{}

	// onFinalized receives every finalized clip; wired to the catalog
	// and uploader at startup. Called from its own goroutine.
	onFinalized func(Clip)

	command func(bin string, args ...string) *exec.Cmd
}

type startReq struct {
	trigger Trigger
	maxLen  time.Duration
	reply   chan startResp
}

type startResp struct {
	status Status
	err    error
}

type stopReq struct{ reply chan stopResp }

type stopResp struct {
	clip Clip
	err  error
}

type statusReq struct{ reply chan Status }

type jobExit struct {
	gen uint64
	err error
}

type job struct {
	gen       uint64
	id        string
	path      string
	trigger   Trigger
	startedAt time.Time
	cmd       *exec.Cmd
	waitCh    chan error
	tail      *proc.Tail
	feedDown  <-chan struct{}
}

// New creates the controller and starts its control loop.
func New(cfg config.RecordingConfig, capCfg config.CaptureConfig, feed Feed,
	onFinalized func(Clip), log *zap.SugaredLogger) *Controller {
	if onFinalized == nil {
		onFinalized = func(Clip) {}
	}
	c := &Controller{
		cfg:         cfg,
		capCfg:      capCfg,
		feed:        feed,
		log:         log,
		reqs:        make(chan any),
		exits:       make(chan jobExit, 2),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		onFinalized: onFinalized,
		command:     exec.Command,
	}
	go c.run()
	return c
}

// Start begins a recording. maxLen caps the clip length; zero means
// the configured maximum.
func (c *Controller) Start(trigger Trigger, maxLen time.Duration) (Status, error) {
	req := startReq{trigger: trigger, maxLen: maxLen, reply: make(chan startResp, 1)}
	if err := c.send(req); err != nil {
		return Status{}, err
	}
	resp := <-req.reply
	return resp.status, resp.err
}

// Stop ends the active recording and returns the finalized clip.
func (c *Controller) Stop() (Clip, error) {
	req := stopReq{reply: make(chan stopResp, 1)}
	if err := c.send(req); err != nil {
		return Clip{}, err
	}
	resp := <-req.reply
	return resp.clip, resp.err
}

// Status reports whether a recording is in progress.
func (c *Controller) Status() Status {
	req := statusReq{reply: make(chan Status, 1)}
	if err := c.send(req); err != nil {
		return Status{}
	}
	return <-req.reply
}

// Close stops the loop, finalizing any recording in flight.
func (c *Controller) Close() {
	close(c.quit)
	<-c.done
}

func (c *Controller) send(req any) error {
	select {
	case c.reqs <- req:
		return nil
	case <-c.done:
		return errors.New("recorder closed")
	case <-time.After(3 * c.cfg.StopGrace):
		return errControlTimeout
	}
}

func (c *Controller) run() {
	defer close(c.done)

	var active *job
	var gen uint64

	for {
		var feedDown <-chan struct{}
		if active != nil {
			feedDown = active.feedDown
		}

		select {
		case <-c.quit:
			if active != nil {
				c.finish(active, false)
			}
			return

		case <-feedDown:
			c.log.Warnw("feed lost during recording", "id", active.id)
			c.finish(active, true)
			active = nil

		case ex := <-c.exits:
			if active == nil || ex.gen != active.gen {
				continue
			}
			// Natural end (duration cap reached) finalizes clean; an
			// error exit marks the clip truncated.
			truncated := ex.err != nil
			if truncated {
				c.log.Warnw("recording process exited with error",
					"id", active.id, "error", ex.err, "stderr", active.tail.String())
			}
			c.finish(active, truncated)
			active = nil

		case req := <-c.reqs:
			switch r := req.(type) {
			case startReq:
				if active != nil {
					r.reply <- startResp{err: ErrAlreadyRecording}
					continue
				}
				if !c.feed.Running() {
					r.reply <- startResp{err: ErrCaptureNotRunning}
					continue
				}
				gen++
				j, err := c.startJob(gen, r.trigger, r.maxLen)
				if err != nil {
					r.reply <- startResp{err: err}
					continue
				}
				active = j
				r.reply <- startResp{status: statusOf(active)}

			case stopReq:
				if active == nil {
					r.reply <- stopResp{err: ErrNotRecording}
					continue
				}
				clip := c.finish(active, false)
				active = nil
				r.reply <- stopResp{clip: clip}

			case statusReq:
				r.reply <- statusOf(active)
			}
		}
	}
}

func statusOf(j *job) Status {
	if j == nil {
		return Status{}
	}
	return Status{
		Recording:   true,
		ID:          j.id,
		Path:        j.path,
		TriggeredBy: string(j.trigger),
		StartedAt:   j.startedAt,
	}
}

func (c *Controller) startJob(gen uint64, trigger Trigger, maxLen time.Duration) (*job, error) {
	if err := os.MkdirAll(c.cfg.Dir, 0o775); err != nil {
		return nil, fmt.Errorf("prepare recording dir: %w", err)
	}
	if maxLen <= 0 || maxLen > c.cfg.MaxDuration {
		maxLen = c.cfg.MaxDuration
	}

	id := uuid.NewString()
	now := time.Now()
	name := fmt.Sprintf("%s%s_%s_%s.mp4",
		c.cfg.Prefix, trigger, now.Format("20060102_150405"), strings.Split(id, "-")[0])
	path := filepath.Join(c.cfg.Dir, name)

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-fflags", "+genpts",
		"-i", c.capCfg.FanoutURL,
		"-t", fmt.Sprintf("%d", int(maxLen.Seconds())),
		"-c:v", "copy",
		"-c:a", "copy",
		"-movflags", "+faststart",
		path,
	}

	cmd := c.command(c.capCfg.FFmpegBin, args...)
	proc.Setpgid(cmd)

	tail := proc.NewTail(c.capCfg.StderrTailLines)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recording process: %w", err)
	}
	go tail.Consume(stderr)

	j := &job{
		gen:       gen,
		id:        id,
		path:      path,
		trigger:   trigger,
		startedAt: now,
		cmd:       cmd,
		waitCh:    make(chan error, 1),
		tail:      tail,
		feedDown:  c.feed.Subscribe(),
	}
	go func() {
		err := cmd.Wait()
		j.waitCh <- err
		c.exits <- jobExit{gen: gen, err: err}
	}()

	c.log.Infow("recording started", "id", id, "path", path, "trigger", trigger, "maxLen", maxLen)
	return j, nil
}

// finish terminates the process if still alive and always produces a
// clip, stats permitting. SIGTERM lets ffmpeg write the trailer so the
// file stays playable.
func (c *Controller) finish(j *job, truncated bool) Clip {
	_ = proc.Terminate(j.cmd, j.waitCh, c.cfg.StopGrace)

	clip := Clip{
		ID:          j.id,
		Path:        j.path,
		TriggeredBy: string(j.trigger),
		Duration:    time.Since(j.startedAt).Seconds(),
		Truncated:   truncated,
		CreatedAt:   j.startedAt,
	}
	if info, err := os.Stat(j.path); err == nil {
		clip.SizeBytes = info.Size()
	} else {
		c.log.Warnw("finalized recording missing on disk", "path", j.path, "error", err)
		clip.Truncated = true
	}

	result := "ok"
	if clip.Truncated {
		result = "truncated"
	}
	metrics.IncRecordingFinalized(result)
	c.log.Infow("recording finalized",
		"id", clip.ID, "path", clip.Path, "truncated", clip.Truncated, "size", clip.SizeBytes)

	go c.onFinalized(clip)
	return clip
}
