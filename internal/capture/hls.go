package capture

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// freshWindow mirrors the legacy status fallback: the playlist counts
// as alive if it was written within the last ten seconds.
const freshWindow = 10 * time.Second

// hlsWatcher observes the HLS directory so Status can report whether
// segments are actually being produced, independent of process state.
type hlsWatcher struct {
	log       *zap.SugaredLogger
	watcher   *fsnotify.Watcher
	lastWrite atomic.Int64 // unix nanos
	done      chan struct{}
}

func newHLSWatcher(dir string, log *zap.SugaredLogger) (*hlsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	hw := &hlsWatcher{log: log, watcher: w, done: make(chan struct{})}
	go hw.run()
	return hw, nil
}

func (hw *hlsWatcher) run() {
	defer close(hw.done)
	for {
		select {
		case ev, ok := <-hw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m3u8") {
				hw.lastWrite.Store(time.Now().UnixNano())
			}
		case err, ok := <-hw.watcher.Errors:
			if !ok {
				return
			}
			hw.log.Warnw("hls watcher error", "error", err)
		}
	}
}

func (hw *hlsWatcher) Fresh() bool {
	ns := hw.lastWrite.Load()
	if ns == 0 {
		return false
	}
	return time.Since(time.Unix(0, ns)) < freshWindow
}

func (hw *hlsWatcher) Close() {
	hw.watcher.Close()
	<-hw.done
}

// cleanHLSDir removes stale segments and the playlist before a fresh
// start, so clients never see leftovers from a previous run.
func cleanHLSDir(dir string) error {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m3u8") {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}
