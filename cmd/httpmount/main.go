// Command httpmount mounts remote HTTP files as a read-only FUSE
// filesystem, streaming reads through a chunk-aligned block cache.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/javi11/httpmount/internal/api"
	"github.com/javi11/httpmount/internal/config"
	"github.com/javi11/httpmount/internal/control"
	"github.com/javi11/httpmount/internal/fuse"
	"github.com/javi11/httpmount/internal/origin"
	"github.com/javi11/httpmount/internal/registry"
	"github.com/javi11/httpmount/internal/streamer"
	"github.com/javi11/httpmount/internal/webfs"
)

var version = "dev"

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:     "httpmount [mountpoint]",
		Short:   "Mount remote HTTP files as a local read-only filesystem",
		Args:    cobra.MaximumNArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			mountPath := ""
			if len(args) == 1 {
				mountPath = args[0]
			}
			return run(configPath, mountPath, logLevel)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, mountPath, logLevel string) error {
	cfg, err := loadConfig(configPath, mountPath, logLevel)
	if err != nil {
		return err
	}

	logger := setupLogging(cfg.Log)
	logger.Info("Starting httpmount",
		"version", version,
		"mountpoint", cfg.MountPath,
		"chunk_size", humanize.IBytes(uint64(cfg.Streaming.ChunkSize())),
		"cache_cap", humanize.IBytes(uint64(cfg.Streaming.CacheCapBytes())),
		"prefetch_window", humanize.IBytes(uint64(cfg.Streaming.PrefetchWindow())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core read path: session pool -> fetcher -> streamer.
	pool := origin.NewPool(origin.PoolConfig{
		IdleTimeout: cfg.Origin.IdleSessionTimeout(),
		SweepPeriod: cfg.Origin.SweepPeriod(),
	}, logger.With("component", "origin"))
	pool.Start(ctx)
	defer pool.Stop()

	fetcher := origin.NewFetcher(pool, origin.FetcherConfig{
		Timeout: cfg.Streaming.FetchTimeout(),
	})

	core, err := streamer.New(streamer.Config{
		ChunkSize:         cfg.Streaming.ChunkSize(),
		CacheSlots:        cfg.Streaming.CacheSlots(),
		PrefetchWindow:    cfg.Streaming.PrefetchWindow(),
		PrefetchBatchSize: cfg.Streaming.PrefetchBatchSize,
		OpenWarmupBytes:   cfg.Streaming.OpenWarmupBytes(),
	}, pool, fetcher, logger.With("component", "streamer"))
	if err != nil {
		return fmt.Errorf("create streamer: %w", err)
	}
	defer core.Stop()

	reg := registry.New(logger.With("component", "registry"))
	for _, entry := range cfg.Files {
		if _, err := reg.Register(entry.Name, entry.URL); err != nil {
			return fmt.Errorf("register %q from config: %w", entry.Name, err)
		}
	}

	wfs := webfs.New(reg, core, logger.With("component", "webfs"))

	if cfg.Control.Enabled {
		ctl := control.NewServer(cfg.Control.ListenAddr, reg, logger.With("component", "control"))
		if err := ctl.Start(ctx); err != nil {
			return err
		}
		defer ctl.Stop()
	}

	fuseServer := fuse.NewServer(cfg.MountPath, wfs, logger.With("component", "fuse"), cfg.Mount)

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API.Port, reg, core, pool, fuseServer, logger.With("component", "api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server failed", "error", err)
			}
		}()
	}

	mountDone := make(chan error, 1)
	go func() {
		mountDone <- fuseServer.Mount()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		if err := fuseServer.Unmount(); err != nil {
			logger.Error("Unmount failed", "error", err)
		}
		return <-mountDone
	case err := <-mountDone:
		return err
	}
}

func loadConfig(configPath, mountPath, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if mountPath != "" {
		cfg.MountPath = mountPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
