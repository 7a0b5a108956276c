package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/archive"
	"github.com/alfredjeanlab/lastplay/internal/config"
	"github.com/alfredjeanlab/lastplay/internal/cue"
	"github.com/alfredjeanlab/lastplay/internal/detect"
	"github.com/alfredjeanlab/lastplay/internal/engine"
	"github.com/alfredjeanlab/lastplay/internal/events"
	"github.com/alfredjeanlab/lastplay/internal/hotkey"
	"github.com/alfredjeanlab/lastplay/internal/journal"
	"github.com/alfredjeanlab/lastplay/internal/obs"
	"github.com/alfredjeanlab/lastplay/internal/profile"
	"github.com/alfredjeanlab/lastplay/internal/status"
	"github.com/alfredjeanlab/lastplay/internal/store"
	"github.com/alfredjeanlab/lastplay/internal/store/postgres"
	"github.com/alfredjeanlab/lastplay/internal/store/sqlite"
	"github.com/alfredjeanlab/lastplay/internal/takes"
	"github.com/alfredjeanlab/lastplay/internal/telemetry"
	"github.com/alfredjeanlab/lastplay/internal/ui"
)

const shutdownTimeout = 10 * time.Second

// run starts every component, ticks the orchestrator until SIGINT or
// SIGTERM, then stops everything in reverse order. Deferred calls carry
// the shutdown sequence so a failure halfway through startup unwinds only
// what was started.
func run(parent context.Context, f flags) error {
	// Load configuration.
	if f.initConfig {
		switch err := config.WriteDefault(f.configPath); {
		case err == nil:
			fmt.Fprintf(os.Stderr, "wrote default configuration to %s\n", f.configPath)
		case errors.Is(err, fs.ErrExist):
		default:
			return err
		}
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if f.games != "" {
		cfg.Detection.Profiles = f.games
	}
	if f.game != "" {
		cfg.Detection.ForceGame = f.game
	}
	if f.debug {
		cfg.Input.Debug = true
	}

	logger, logFile, err := newLogger(cfg.Input)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	if cfg.Path == "" {
		logger.Info("no config file, using defaults", "path", f.configPath)
	}
	for _, k := range cfg.Undecoded {
		logger.Warn("unknown config key ignored", "key", k)
	}

	// Tracing is opt-in.
	shutdownTracing, err := telemetry.Setup(parent, cfg.Telemetry.OTelEndpoint, version)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error("telemetry shutdown error", "err", err)
		}
	}()

	// Load game profiles.
	profiles, rejected, err := profile.LoadFile(cfg.ProfilesPath())
	if err != nil {
		return err
	}
	for _, rej := range rejected {
		logger.Warn("game profile rejected", "err", rej)
	}

	// Connect to the recorder. Failing here is fatal; later losses are not.
	client := obs.New(obs.Options{
		URL:      cfg.OBS.URL(),
		Password: cfg.OBS.Password,
		Timeout:  cfg.OBS.TimeoutDuration(),
		Logger:   logger.With("component", "obs"),
	})
	connectCtx, cancelConnect := context.WithTimeout(parent, 2*cfg.OBS.TimeoutDuration())
	err = client.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		client.Close()
		return fmt.Errorf("connecting to OBS at %s: %w", cfg.OBS.URL(), err)
	}
	bg, cancelBG := context.WithCancel(context.Background())
	defer func() {
		cancelBG()
		client.Close()
		logger.Info("OBS connection closed")
	}()
	go client.Run(bg)

	// Take manager.
	root := expandHome(cfg.Recording.OutputDir)
	if root == "" {
		ctx, cancel := context.WithTimeout(parent, cfg.OBS.TimeoutDuration())
		if dir, err := client.RecordDirectory(ctx); err != nil {
			logger.Warn("recorder output directory unknown; filing next to each recording", "err", err)
		} else {
			root = dir
		}
		cancel()
	}
	takeManager := takes.NewManager(takes.Options{
		Root:   root,
		Policy: takes.Policy(cfg.Recording.Policy),
		Grace:  cfg.Recording.SaveGraceDuration(),
		Logger: logger.With("component", "takes"),
	})
	logger.Info("takes", "root", root, "policy", cfg.Recording.Policy)

	// Take history.
	var history store.Store
	if cfg.History.Database != "" {
		s, err := openHistory(cfg.History.Database)
		if err != nil {
			logger.Error("take history disabled", "err", err)
		} else {
			history = s
			defer func() {
				if err := s.Close(); err != nil {
					logger.Error("history close error", "err", err)
				}
			}()
			logger.Info("take history enabled")
		}
	}

	// Event publisher.
	var publisher events.Publisher = &events.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL)
		if err != nil {
			logger.Error("events disabled", "err", err)
		} else {
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.Events.NATSURL)
		}
	}
	defer publisher.Close()

	// Archive.
	var archiver *archive.Archiver
	if cfg.Archive.S3Bucket != "" {
		dest, err := archive.NewS3Destination(parent, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.S3Endpoint)
		if err != nil {
			logger.Error("archive disabled", "err", err)
		} else {
			archiver = archive.New(dest, archive.Options{
				Prefix: cfg.Archive.S3Prefix,
				Logger: logger.With("component", "archive"),
			})
		}
	}

	jopts := journal.Options{
		Store:     history,
		Publisher: publisher,
		Logger:    logger.With("component", "journal"),
	}
	if archiver != nil {
		jopts.Archive = archiver
	}
	jrnl := journal.New(jopts)

	// The manifest lists the history store when there is one, otherwise the
	// takes this run has seen.
	var takeLister status.TakeLister = jrnl
	if history != nil {
		takeLister = history
	}
	if archiver != nil {
		archiver.SetHistory(takeLister)
		archiver.Start()
		logger.Info("archive enabled", "bucket", cfg.Archive.S3Bucket, "prefix", cfg.Archive.S3Prefix)
		defer func() {
			archiver.Stop()
			logger.Info("archive stopped")
		}()
	}
	defer jrnl.Close()

	// Detection.
	var probe detect.WindowProbe
	if cfg.Detection.ForceGame == "" {
		probe = detect.NewForegroundProbe()
	}
	capturer := &detect.ScreenCapturer{Probe: probe}
	var screenshots detect.Capturer
	if cfg.Recording.SaveScreenshots {
		screenshots = capturer
	}

	// Cues and notices.
	var out cue.Output
	if cfg.Audio.Enabled {
		o, err := cue.NewOtoOutput(logger.With("component", "cue"))
		if err != nil {
			logger.Warn("audio unavailable, running without cues", "err", err)
		} else {
			out = o
		}
	}
	cues := cue.NewDispatcher(cfg.Audio.Cues(), out, logger.With("component", "cue"))

	console := ui.NewFormatter(os.Stdout, ui.ShouldUseColor(os.Stdout))
	notifiers := engine.Notifiers{console}
	if cfg.Audio.Notifications {
		notifiers = append(notifiers, cue.NewDesktopNotifier("lastplay", logger.With("component", "notify")))
	}

	// Save sources must outlive orchestrator shutdown: saves still apply
	// while the last recording is finalised.
	saves := engine.NewSaveQueue(0)

	// Save key.
	binding, err := hotkey.ParseBinding(cfg.Input.SaveKey)
	if err != nil {
		return fmt.Errorf("input.save_key: %w", err)
	}
	listener, err := hotkey.Start(hotkey.Options{
		Binding:          binding,
		Offer:            saves.Offer,
		RequireElevation: cfg.Input.RequireElevation,
		Logger:           logger.With("component", "hotkey"),
	})
	if err != nil {
		if errors.Is(err, hotkey.ErrNotElevated) {
			return fmt.Errorf("%w; run as administrator or set input.require_elevation = false", err)
		}
		return err
	}
	defer listener.Close()

	// Remote saves over NATS.
	if cfg.Events.NATSURL != "" {
		sub, err := events.NewNATSSubscriber(cfg.Events.NATSURL)
		if err != nil {
			logger.Error("remote saves disabled", "err", err)
		} else {
			defer sub.Close()
			if err := events.ListenForSaves(bg, sub, saves.Offer, logger.With("component", "events")); err != nil {
				logger.Error("remote saves disabled", "err", err)
			} else {
				logger.Info("listening for remote saves", "topic", events.TopicSave)
			}
		}
	}

	orch, err := engine.New(engine.Options{
		Controller:       client,
		Events:           client.Events(),
		Profiles:         profiles,
		Backends:         &detect.Factory{Capturer: capturer, Logger: logger.With("component", "detect")},
		Probe:            probe,
		Scenes:           cfg,
		Takes:            takeManager,
		Saves:            saves,
		Cues:             cues,
		Journal:          engine.Journals{jrnl, console},
		Notifier:         notifiers,
		Screenshots:      screenshots,
		Logger:           logger.With("component", "engine"),
		Interval:         cfg.Detection.IntervalDuration(),
		Debounce:         cfg.Detection.DetectionsRequired,
		SessionGrace:     cfg.Detection.SessionGraceDuration(),
		SceneChangeDelay: cfg.Recording.SceneChangeDelayDuration(),
		ForceGame:        cfg.Detection.ForceGame,
		Timeout:          cfg.OBS.TimeoutDuration(),
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		orch.Shutdown(ctx)
		logger.Info("recording stopped")
	}()

	// Status surface.
	if cfg.Status.HTTPAddr != "" || cfg.Status.GRPCAddr != "" {
		stop, err := startStatus(bg, cfg.Status, orch, takeLister, logger.With("component", "status"))
		if err != nil {
			logger.Error("status surface disabled", "err", err)
		} else {
			defer stop()
		}
	}

	logger.Info("lastplay started",
		"version", version,
		"games", len(profiles.Profiles),
		"save_key", binding.Name,
		"force_game", cfg.Detection.ForceGame,
	)
	console.Info("ready; press %s on a result screen to save the play", binding.Name)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	orch.Run(ctx)
	logger.Info("shutting down")
	return nil
}

// newLogger builds the process logger: text to stderr, mirrored to the
// configured log file.
func newLogger(in config.InputConfig) (*slog.Logger, *os.File, error) {
	level := slog.LevelInfo
	if in.Debug {
		level = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	var file *os.File
	if in.LogFile != "" {
		path := expandHome(in.LogFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		file = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), file, nil
}

// openHistory opens the store named by a history.database URL.
func openHistory(url string) (store.Store, error) {
	kind, dsn := store.Kind(url)
	switch kind {
	case "postgres":
		return postgres.New(dsn)
	default:
		return sqlite.New(expandHome(dsn))
	}
}

// startStatus serves the HTTP and gRPC status surfaces. The returned
// function stops both.
func startStatus(ctx context.Context, cfg config.StatusConfig, orch *engine.Orchestrator, lister status.TakeLister, logger *slog.Logger) (func(), error) {
	srv := status.NewServer(orch, orch.Saves(), lister, logger)

	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", cfg.GRPCAddr, err)
		}
		grpcLis = lis
	}
	grpcServer := srv.NewGRPCServer()
	if grpcLis != nil {
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(grpcLis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.Token),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()
	}

	healthCtx, cancelHealth := context.WithCancel(ctx)
	go srv.WatchHealth(healthCtx, time.Second)

	return func() {
		cancelHealth()
		grpcServer.GracefulStop()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "err", err)
			}
		}
		logger.Info("status surface stopped")
	}, nil
}

func expandHome(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
