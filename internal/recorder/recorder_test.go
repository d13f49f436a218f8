package recorder

import (
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/logging"
)

type fakeFeed struct {
	running atomic.Bool
	down    chan struct{}
}

func newFakeFeed(running bool) *fakeFeed {
	f := &fakeFeed{down: make(chan struct{})}
	f.running.Store(running)
	return f
}

func (f *fakeFeed) Running() bool              { return f.running.Load() }
func (f *fakeFeed) Subscribe() <-chan struct{} { return f.down }

func newTestController(t *testing.T, feed Feed, onFinalized func(Clip)) *Controller {
	t.Helper()
	cfg := config.RecordingConfig{
		Dir:         t.TempDir(),
		Prefix:      "nest_",
		MaxDuration: time.Minute,
		StopGrace:   500 * time.Millisecond,
	}
	capCfg := config.NewDefaultConfig().Capture
	capCfg.StderrTailLines = 8

	c := New(cfg, capCfg, feed, onFinalized, logging.Nop())
	// Stand-in for ffmpeg: create the output file, then hang around.
	c.command = func(_ string, args ...string) *exec.Cmd {
		out := args[len(args)-1]
		return exec.Command("sh", "-c", "echo clipdata > "+out+"; sleep 60")
	}
	t.Cleanup(c.Close)
	return c
}

func TestStartRequiresRunningCapture(t *testing.T) {
	c := newTestController(t, newFakeFeed(false), nil)

	_, err := c.Start(TriggerManual, 0)
	require.ErrorIs(t, err, ErrCaptureNotRunning)
}

func TestSecondStartIsRejected(t *testing.T) {
	c := newTestController(t, newFakeFeed(true), nil)

	st, err := c.Start(TriggerManual, 0)
	require.NoError(t, err)
	require.True(t, st.Recording)
	require.Equal(t, "manual", st.TriggeredBy)

	_, err = c.Start(TriggerMotion, 0)
	require.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestStopWhenIdle(t *testing.T) {
	c := newTestController(t, newFakeFeed(true), nil)

	_, err := c.Stop()
	require.ErrorIs(t, err, ErrNotRecording)
}

func TestStopFinalizesClip(t *testing.T) {
	clips := make(chan Clip, 1)
	c := newTestController(t, newFakeFeed(true), func(cl Clip) { clips <- cl })

	st, err := c.Start(TriggerManual, 0)
	require.NoError(t, err)

	clip, err := c.Stop()
	require.NoError(t, err)
	require.Equal(t, st.ID, clip.ID)
	require.Equal(t, st.Path, clip.Path)
	require.False(t, clip.Truncated)
	require.Positive(t, clip.SizeBytes)
	require.False(t, c.Status().Recording)

	select {
	case delivered := <-clips:
		require.Equal(t, clip.ID, delivered.ID)
	case <-time.After(time.Second):
		t.Fatal("finalized clip never delivered")
	}
}

func TestFeedLossTruncatesRecording(t *testing.T) {
	clips := make(chan Clip, 1)
	feed := newFakeFeed(true)
	c := newTestController(t, feed, func(cl Clip) { clips <- cl })

	_, err := c.Start(TriggerMotion, 0)
	require.NoError(t, err)

	close(feed.down)

	select {
	case clip := <-clips:
		require.True(t, clip.Truncated)
		require.Equal(t, "motion", clip.TriggeredBy)
	case <-time.After(3 * time.Second):
		t.Fatal("recording not finalized after feed loss")
	}
	require.False(t, c.Status().Recording)
}

func TestProcessDeathFinalizesTruncated(t *testing.T) {
	clips := make(chan Clip, 1)
	c := newTestController(t, newFakeFeed(true), func(cl Clip) { clips <- cl })
	c.command = func(_ string, args ...string) *exec.Cmd {
		out := args[len(args)-1]
		return exec.Command("sh", "-c", "echo clipdata > "+out+"; exit 1")
	}

	_, err := c.Start(TriggerManual, 0)
	require.NoError(t, err)

	select {
	case clip := <-clips:
		require.True(t, clip.Truncated)
	case <-time.After(3 * time.Second):
		t.Fatal("recording not finalized after process death")
	}
}
