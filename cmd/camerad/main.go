// camerad is the control plane for an unattended camera enclosure:
// one capture pipeline, HLS and WebRTC delivery, motion-triggered
// recording and day/night optics control, all behind one HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/turn/v4"
	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/api"
	"github.com/nestcam/camerad/internal/capture"
	"github.com/nestcam/camerad/internal/catalog"
	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/daynight"
	"github.com/nestcam/camerad/internal/logging"
	"github.com/nestcam/camerad/internal/motion"
	"github.com/nestcam/camerad/internal/recorder"
	"github.com/nestcam/camerad/internal/rtc"
	"github.com/nestcam/camerad/internal/upload"
)

type application struct {
	cfg *config.Config
	log *zap.SugaredLogger

	capture  *capture.Supervisor
	recorder *recorder.Controller
	motion   *motion.Engine
	bridge   *rtc.Bridge
	daynight *daynight.Controller
	catalog  *catalog.Store
	uploader *upload.Uploader
	turn     *turn.Server
	http     *http.Server
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	autostart := flag.Bool("autostart", true, "start the capture pipeline at boot")
	flag.Parse()

	log, err := logging.New(*debug)
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	app, err := newApplication(log)
	if err != nil {
		log.Fatalw("startup failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx, *autostart); err != nil {
		log.Fatalw("camerad exited", "error", err)
	}
}

func newApplication(log *zap.SugaredLogger) (*application, error) {
	cfg := config.FromEnv(config.NewDefaultConfig())
	app := &application{cfg: cfg, log: log}

	store, err := catalog.Open(cfg.Catalog, log)
	if err != nil {
		return nil, err
	}
	app.catalog = store

	uploader, err := upload.New(context.Background(), cfg.Upload, log)
	if err != nil {
		return nil, err
	}
	app.uploader = uploader

	app.capture = capture.NewSupervisor(cfg.Capture, log)
	app.recorder = recorder.New(cfg.Recording, cfg.Capture, app.capture,
		app.onClipFinalized, log)
	app.motion = motion.New(cfg.Motion, cfg.Capture.FanoutURL, app.recorder, log)

	bridge, err := rtc.NewBridge(cfg.WebRTC, cfg.Capture.RTPVideoPort, app.capture, log)
	if err != nil {
		return nil, err
	}
	app.bridge = bridge

	turnSrv, err := rtc.StartTURN(cfg.WebRTC, log)
	if err != nil {
		return nil, err
	}
	app.turn = turnSrv

	dn, err := daynight.New(cfg.DayNight, log)
	if err != nil {
		// No IR-cut line on this host; optics control stays off.
		log.Warnw("day/night controller disabled", "error", err)
	} else {
		app.daynight = dn
	}

	return app, nil
}

// onClipFinalized lands every finalized clip in the catalog and, when
// configured, pushes a copy offsite.
func (app *application) onClipFinalized(clip recorder.Clip) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := app.catalog.Insert(ctx, catalog.Recording{
		ID:          clip.ID,
		Path:        clip.Path,
		TriggeredBy: clip.TriggeredBy,
		Duration:    clip.Duration,
		SizeBytes:   clip.SizeBytes,
		Truncated:   clip.Truncated,
		CreatedAt:   clip.CreatedAt,
	})
	if err != nil {
		app.log.Errorw("catalog insert failed", "clip", clip.ID, "error", err)
	}
	app.uploader.UploadAsync(clip.Path)
}

func (app *application) run(ctx context.Context, autostart bool) error {
	deps := api.Deps{
		Capture:  app.capture,
		Recorder: app.recorder,
		Motion:   app.motion,
		RTC:      app.bridge,
		Catalog:  app.catalog,
	}
	if app.daynight != nil {
		deps.DayNight = app.daynight
	}

	server := api.New(app.cfg, deps, app.log)
	app.http = &http.Server{
		Addr:              app.cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.log.Infow("camerad listening", "addr", app.cfg.ListenAddr)
		if err := app.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if autostart {
		if _, err := app.capture.Start(capture.ProfileHLS); err != nil {
			app.log.Warnw("capture autostart failed", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		app.log.Infow("shutdown signal received")
	case err := <-errCh:
		app.cleanup()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.http.Shutdown(shutdownCtx); err != nil {
		app.log.Warnw("http shutdown", "error", err)
	}

	app.cleanup()
	return nil
}

// cleanup tears components down consumers-first so nothing reopens the
// feed mid-shutdown.
func (app *application) cleanup() {
	app.motion.Close()
	app.bridge.Close()
	app.recorder.Close()
	app.capture.Close()
	if app.turn != nil {
		_ = app.turn.Close()
	}
	if app.daynight != nil {
		app.daynight.Close()
	}
	if err := app.catalog.Close(); err != nil {
		app.log.Warnw("catalog close", "error", err)
	}
	app.log.Infow("camerad stopped")
}
