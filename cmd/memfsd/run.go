package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/ajaxzhan/sandbox-memfs/internal/config"
	"github.com/ajaxzhan/sandbox-memfs/internal/fs"
	"github.com/ajaxzhan/sandbox-memfs/internal/logging"
	"github.com/ajaxzhan/sandbox-memfs/internal/memfs"
	"github.com/ajaxzhan/sandbox-memfs/internal/metrics"
	"github.com/ajaxzhan/sandbox-memfs/internal/platform"
	"github.com/ajaxzhan/sandbox-memfs/internal/platform/host"
)

// daemon is everything run wires together.
type daemon struct {
	engine   *memfs.FileSystem
	registry *prometheus.Registry // nil when metrics are disabled
}

// newDaemon builds and seeds the engine described by cfg.
func newDaemon(ctx context.Context, cfg *config.Config, p platform.Platform) (*daemon, error) {
	d := &daemon{}

	var recorder memfs.Recorder
	if cfg.Metrics.Enabled {
		d.registry = prometheus.NewRegistry()
		d.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.New(d.registry)
	}

	engine, err := memfs.New(&memfs.Config{
		Platform: p,
		RootMode: cfg.Filesystem.GetRootMode(),
		RootUID:  cfg.Filesystem.RootUID,
		RootGID:  cfg.Filesystem.RootGID,
		Logger:   logging.Named("memfs"),
		Metrics:  recorder,

		MaxFileSize: cfg.Filesystem.MaxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create filesystem: %w", err)
	}
	d.engine = engine

	seeds, err := cfg.SeedEntries()
	if err != nil {
		return nil, err
	}
	if len(seeds) > 0 {
		if err := engine.Seed(ctx, seeds); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}
	defer func() { _ = logging.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, host.New())
	if err != nil {
		return err
	}
	logging.Info("filesystem ready",
		logging.String("fs_id", d.engine.ID()),
		logging.String("root_mode", cfg.Filesystem.GetRootMode().String()),
		logging.Int("seed_entries", len(cfg.Seed)),
	)

	errCh := make(chan error, 2)
	workers := 1
	if d.registry != nil {
		srv := metrics.NewServer(cfg.Metrics.Addr, d.registry, logging.Named("metrics"))
		workers++
		go func() { errCh <- srv.Start(ctx) }()
	}

	if err := os.MkdirAll(cfg.Mount.Path, 0o755); err != nil {
		stop()
		_ = waitAll(errCh, workers-1)
		return fmt.Errorf("create mount point: %w", err)
	}
	mfs, err := fs.NewMemFS(&fs.MemFSConfig{
		FileSystem:   d.engine,
		MountPoint:   cfg.Mount.Path,
		AllowOther:   cfg.Mount.AllowOther,
		Debug:        cfg.Mount.Debug,
		EntryTimeout: cfg.Mount.GetEntryTimeout(),
		AttrTimeout:  cfg.Mount.GetAttrTimeout(),
		Logger:       logging.Named("fuse"),
	})
	if err != nil {
		stop()
		_ = waitAll(errCh, workers-1)
		return err
	}
	go func() { errCh <- mfs.Mount(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("shutting down")
	case err := <-errCh:
		workers--
		runErr = ignoreCanceled(err)
	}

	stop()
	if err := waitAll(errCh, workers); runErr == nil {
		runErr = err
	}
	return runErr
}

// waitAll collects n results from errCh and returns the first real error.
func waitAll(errCh <-chan error, n int) error {
	var first error
	for ; n > 0; n-- {
		if err := ignoreCanceled(<-errCh); err != nil {
			logging.Warn("shutdown", logging.Err(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
