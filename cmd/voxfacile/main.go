// Command voxfacile runs the voice facilitation server: it connects browser
// microphones (or a local input device) to the realtime speech service and
// walks a session through the facilitation outline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxfacile/voxfacile/internal/config"
	"github.com/voxfacile/voxfacile/internal/gateway"
	"github.com/voxfacile/voxfacile/internal/observe"
	"github.com/voxfacile/voxfacile/internal/record"
	"github.com/voxfacile/voxfacile/internal/script"
	"github.com/voxfacile/voxfacile/internal/session"
	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
	paudio "github.com/voxfacile/voxfacile/pkg/capture/portaudio"
	"github.com/voxfacile/voxfacile/pkg/realtime"
	"github.com/voxfacile/voxfacile/pkg/vad"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxfacile.yaml", "path to the YAML configuration file")
	localMic := flag.Bool("mic", false, "capture from the local input device instead of the browser stream")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxfacile: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it on
	// a running server.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxfacile starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"local_mic", *localMic,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.Setup(ctx, observe.WithServiceVersion(version))
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Gateway ───────────────────────────────────────────────────────────────
	// Sessions read the config through a pointer the watcher can swap, so a
	// reload applies to the next started session without restarting.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	srv, err := gateway.New(gateway.Config{
		Factory: sessionFactory(current.Load, *localMic),
		Format:  captureFormat(cfg),
	})
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		return 1
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config watcher (hot reload) ───────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VADChanged {
			// Detector tuning is read per session; the next started
			// session picks it up.
			slog.Info("voice detection tuning changed; applies to the next session",
				"threshold", d.NewVAD.Threshold,
				"silence_duration", d.NewVAD.SilenceDuration.Std(),
			)
		}
		current.Store(new)
	})
	if err != nil {
		// A deleted config file after startup is not fatal.
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig loads the file at path, falling back to defaults when the file
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxfacile: config file %q not found, using defaults\n", path)
		return config.Default(), nil
	}
	return nil, err
}

// ── Session wiring ────────────────────────────────────────────────────────────

// sessionFactory builds a session around the gateway's capture source. With
// localMic set, the browser stream is ignored and the local input device is
// captured instead.
func sessionFactory(currentConfig func() *config.Config, localMic bool) gateway.Factory {
	return func(src capture.Source) (gateway.Session, error) {
		cfg := currentConfig()
		if localMic {
			src = paudio.New(paudio.Config{
				Format:         captureFormat(cfg),
				ChunkSamples:   cfg.Audio.ChunkSamples,
				DeviceChannels: cfg.Audio.DeviceChannels,
			})
		}

		detector, err := vad.New(vad.Config{
			Threshold:       cfg.VAD.Threshold,
			SilenceDuration: cfg.VAD.SilenceDuration.Std(),
			WindowSize:      cfg.VAD.WindowSize,
		})
		if err != nil {
			return nil, fmt.Errorf("building detector: %w", err)
		}

		outline, err := loadOutline(cfg.Script.OutlinePath)
		if err != nil {
			return nil, err
		}
		cursor, err := script.NewCursor(outline)
		if err != nil {
			return nil, fmt.Errorf("building cursor: %w", err)
		}

		client := realtime.New(realtime.Config{
			URL:               cfg.Realtime.URL,
			APIKey:            os.Getenv(cfg.Realtime.APIKeyEnv),
			Model:             cfg.Realtime.Model,
			Voice:             cfg.Realtime.Voice,
			Format:            captureFormat(cfg),
			ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
			ReconnectDelay:    cfg.Realtime.ReconnectDelay.Std(),
			PingInterval:      cfg.Realtime.PingInterval.Std(),
			MaxBufferBytes:    cfg.Realtime.MaxBufferBytes,
		})

		var recorder *record.Recorder
		if dir := cfg.Session.RecordDir; dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating record dir: %w", err)
			}
			name := "session-" + time.Now().Format("20060102-150405") + ".wav"
			recorder, err = record.NewRecorder(filepath.Join(dir, name), captureFormat(cfg))
			if err != nil {
				return nil, fmt.Errorf("creating recorder: %w", err)
			}
		}

		return session.New(session.Config{
			Source:      src,
			Client:      client,
			Detector:    detector,
			Cursor:      cursor,
			MaxDuration: cfg.Session.MaxDuration.Std(),
			BreakAfter:  cfg.Session.BreakAfter.Std(),
			Recorder:    recorder,
		})
	}
}

func loadOutline(path string) (*script.Outline, error) {
	if path == "" {
		return script.Default(), nil
	}
	outline, err := script.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading outline: %w", err)
	}
	return outline, nil
}

func captureFormat(cfg *config.Config) audio.Format {
	return audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   cfg.Audio.BitDepth,
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
