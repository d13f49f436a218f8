package capture

import (
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/metrics"
	"github.com/nestcam/camerad/internal/proc"
)

var errControlTimeout = errors.New("capture control loop timed out")

// Supervisor runs the capture control loop. All state lives inside the
// loop goroutine; Start/Stop/Status are synchronous requests into it
// and block only for a bounded time.
type Supervisor struct {
	cfg config.CaptureConfig
	log *zap.SugaredLogger

	reqs    chan any
	exits   chan childExit
	quit    chan struct{}
	done    chan struct{}
	running atomic.Bool

	// command is swapped in tests to avoid spawning real encoders.
	command func(bin string, args ...string) *exec.Cmd
}

type startReq struct {
	profile Profile
	reply   chan startResp
}

type startResp struct {
	sess Session
	err  error
}

type stopReq struct{ reply chan Session }

type statusReq struct{ reply chan Session }

type subscribeReq struct{ reply chan (<-chan struct{}) }

type childExit struct {
	gen  uint64
	name string
	err  error
}

// child is one supervised ffmpeg process.
type child struct {
	name   string
	cmd    *exec.Cmd
	waitCh chan error
	tail   *proc.Tail
}

// pipeline is the running pair of children plus everything consumers
// hold on to.
type pipeline struct {
	gen       uint64
	capture   *child
	segmenter *child
	feedDown  chan struct{}
	hls       *hlsWatcher
}

// NewSupervisor creates the supervisor and starts its control loop.
func NewSupervisor(cfg config.CaptureConfig, log *zap.SugaredLogger) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		log:     log,
		reqs:    make(chan any),
		exits:   make(chan childExit, 4),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		command: exec.Command,
	}
	go s.run()
	return s
}

// Start spawns the capture pipeline, or returns the existing session
// unchanged when one is already running.
func (s *Supervisor) Start(profile Profile) (Session, error) {
	if profile == "" {
		profile = ProfileHLS
	}
	req := startReq{profile: profile, reply: make(chan startResp, 1)}
	if err := s.send(req); err != nil {
		return Session{}, err
	}
	select {
	case resp := <-req.reply:
		return resp.sess, resp.err
	case <-time.After(s.cfg.StartTimeout + s.cfg.StopGrace):
		return Session{}, errControlTimeout
	}
}

// Stop tears the pipeline down. Stopping an already stopped supervisor
// is a no-op, not an error.
func (s *Supervisor) Stop() (Session, error) {
	req := stopReq{reply: make(chan Session, 1)}
	if err := s.send(req); err != nil {
		return Session{}, err
	}
	select {
	case sess := <-req.reply:
		return sess, nil
	case <-time.After(3 * s.cfg.StopGrace):
		return Session{}, errControlTimeout
	}
}

// Status returns the current session descriptor.
func (s *Supervisor) Status() Session {
	req := statusReq{reply: make(chan Session, 1)}
	if err := s.send(req); err != nil {
		return Session{State: StateStopped}
	}
	select {
	case sess := <-req.reply:
		return sess
	case <-time.After(3 * s.cfg.StopGrace):
		return Session{State: StateStopped}
	}
}

// Running reports whether the pipeline is currently live. Cheap enough
// for per-tick checks by the motion engine.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Subscribe returns a channel that is closed when the feed goes away,
// whether by Stop or by a crash. Consumers must tear themselves down
// when it fires; they never reopen the device on their own. When the
// feed is already down the returned channel is closed.
func (s *Supervisor) Subscribe() <-chan struct{} {
	req := subscribeReq{reply: make(chan (<-chan struct{}), 1)}
	if err := s.send(req); err != nil {
		return closedChan
	}
	select {
	case ch := <-req.reply:
		return ch
	case <-time.After(3 * s.cfg.StopGrace):
		return closedChan
	}
}

// Close shuts the control loop down, stopping any running pipeline.
func (s *Supervisor) Close() {
	close(s.quit)
	<-s.done
}

func (s *Supervisor) send(req any) error {
	select {
	case s.reqs <- req:
		return nil
	case <-s.done:
		return errors.New("capture supervisor closed")
	case <-time.After(3 * s.cfg.StopGrace):
		return errControlTimeout
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (s *Supervisor) run() {
	defer close(s.done)

	sess := Session{State: StateStopped}
	var p *pipeline
	var gen uint64

	for {
		select {
		case <-s.quit:
			if p != nil {
				s.teardown(p)
			}
			return

		case ex := <-s.exits:
			if p == nil || ex.gen != p.gen {
				continue // exit from an already torn down generation
			}
			s.handleCrash(&sess, p, ex)
			p = nil

		case req := <-s.reqs:
			switch r := req.(type) {
			case startReq:
				if sess.State == StateRunning {
					r.reply <- startResp{sess: s.view(sess, p)}
					continue
				}
				gen++
				np, nsess, err := s.startPipeline(gen, r.profile)
				if err != nil {
					sess = Session{State: StateFailed, LastError: err.Error()}
					r.reply <- startResp{sess: sess, err: err}
					continue
				}
				p, sess = np, nsess
				s.running.Store(true)
				metrics.IncCaptureStart()
				r.reply <- startResp{sess: s.view(sess, p)}

			case stopReq:
				if p == nil {
					sess = Session{State: StateStopped, LastError: sess.LastError}
					r.reply <- sess
					continue
				}
				sess.State = StateStopping
				s.teardown(p)
				p = nil
				sess = Session{State: StateStopped}
				r.reply <- sess

			case statusReq:
				r.reply <- s.view(sess, p)

			case subscribeReq:
				if p == nil {
					r.reply <- (<-chan struct{})(closedChan)
				} else {
					r.reply <- (<-chan struct{})(p.feedDown)
				}
			}
		}
	}
}

func (s *Supervisor) view(sess Session, p *pipeline) Session {
	if p != nil && p.hls != nil {
		sess.PlaylistFresh = p.hls.Fresh()
	}
	return sess
}

func (s *Supervisor) startPipeline(gen uint64, profile Profile) (*pipeline, Session, error) {
	if err := cleanHLSDir(s.cfg.HLSDir); err != nil {
		return nil, Session{}, fmt.Errorf("prepare hls dir: %w", err)
	}

	capture, err := s.spawn(gen, "capture", captureArgs(s.cfg))
	if err != nil {
		return nil, Session{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	segmenter, err := s.spawn(gen, "segmenter", segmenterArgs(s.cfg))
	if err != nil {
		_ = proc.Terminate(capture.cmd, capture.waitCh, s.cfg.StopGrace)
		return nil, Session{}, fmt.Errorf("start hls segmenter: %w", err)
	}

	p := &pipeline{
		gen:       gen,
		capture:   capture,
		segmenter: segmenter,
		feedDown:  make(chan struct{}),
	}

	if hw, err := newHLSWatcher(s.cfg.HLSDir, s.log); err != nil {
		s.log.Warnw("hls watcher unavailable", "error", err)
	} else {
		p.hls = hw
	}

	sess := Session{
		State:     StateRunning,
		Profile:   profile,
		PID:       capture.cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	s.log.Infow("capture pipeline started",
		"pid", sess.PID, "profile", profile, "fanout", s.cfg.FanoutURL)
	return p, sess, nil
}

func (s *Supervisor) spawn(gen uint64, name string, args []string) (*child, error) {
	cmd := s.command(s.cfg.FFmpegBin, args...)
	proc.Setpgid(cmd)

	tail := proc.NewTail(s.cfg.StderrTailLines)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go tail.Consume(stderr)

	c := &child{name: name, cmd: cmd, waitCh: make(chan error, 1), tail: tail}
	go func() {
		// The buffered waitCh feeds proc.Terminate during teardown; the
		// exits notification covers unexpected death. The loop dedupes
		// by generation, so a teardown-era exit is ignored.
		err := cmd.Wait()
		c.waitCh <- err
		s.exits <- childExit{gen: gen, name: name, err: err}
	}()
	return c, nil
}

// handleCrash moves the session to Failed, keeps the dead child's
// stderr tail as the diagnostic, and forces every consumer to detach.
func (s *Supervisor) handleCrash(sess *Session, p *pipeline, ex childExit) {
	dead := p.capture
	sibling := p.segmenter
	if ex.name == "segmenter" {
		dead, sibling = p.segmenter, p.capture
	}

	lastError := dead.tail.String()
	if lastError == "" && ex.err != nil {
		lastError = ex.err.Error()
	}

	s.log.Errorw("capture pipeline failed",
		"child", ex.name, "error", ex.err, "stderr", lastError)
	metrics.IncCaptureFailure()

	_ = proc.Terminate(sibling.cmd, sibling.waitCh, s.cfg.StopGrace)
	if p.hls != nil {
		p.hls.Close()
	}
	close(p.feedDown)
	s.running.Store(false)

	*sess = Session{State: StateFailed, LastError: lastError}
}

func (s *Supervisor) teardown(p *pipeline) {
	// Segmenter first: it is a consumer of the capture feed.
	_ = proc.Terminate(p.segmenter.cmd, p.segmenter.waitCh, s.cfg.StopGrace)
	_ = proc.Terminate(p.capture.cmd, p.capture.waitCh, s.cfg.StopGrace)
	if p.hls != nil {
		p.hls.Close()
	}
	close(p.feedDown)
	s.running.Store(false)
	s.log.Infow("capture pipeline stopped")
}
