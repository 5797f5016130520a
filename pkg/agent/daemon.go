// Package agent assembles the node daemon: site discovery, schedule
// evaluation, heartbeats and the backup pipeline, all talking to the
// master over the API-key channel.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wpfleet/wpfleet/internal/agent/beacon"
	"github.com/wpfleet/wpfleet/internal/agent/governor"
	"github.com/wpfleet/wpfleet/internal/agent/pipeline"
	"github.com/wpfleet/wpfleet/internal/agent/scanner"
	"github.com/wpfleet/wpfleet/internal/agent/scheduler"
	"github.com/wpfleet/wpfleet/internal/agent/state"
	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/config"
	"github.com/wpfleet/wpfleet/pkg/metrics"
)

// Daemon is the running node agent.
type Daemon struct {
	cfg     *config.AgentConfig
	version string

	client *apiclient.Client
	state  *state.Store
	gov    *governor.Governor
	engine *pipeline.Engine
	sched  *scheduler.Scheduler
	beacon *beacon.Beacon

	mu    sync.RWMutex
	sites []scanner.Site
}

// New wires the daemon from config. The returned daemon owns the state
// store; Run closes it on exit.
func New(cfg *config.AgentConfig, version string) (*Daemon, error) {
	if cfg.MasterURL == "" {
		return nil, fmt.Errorf("master_url is not configured; run 'wpfleet-agent join' first")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is not configured; run 'wpfleet-agent join' first")
	}

	client := apiclient.New(cfg.MasterURL).WithAPIKey(cfg.APIKey)

	st, err := state.Open(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	gov := governor.New(governor.Config{
		IOPermits:      cfg.Governor.IOPermits,
		NetPermits:     cfg.Governor.NetPermits,
		CPUWorkers:     cfg.Governor.CPUWorkers,
		BandwidthLimit: cfg.Governor.BandwidthLimit.Int64(),
	})

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	engine := pipeline.New(pipeline.Options{
		Config:        cfg.Pipeline,
		TempRoot:      cfg.TempRoot,
		KeepOnFailure: cfg.KeepOnFailure,
		Client:        client,
		Governor:      gov,
		State:         st,
		Metrics:       metrics.NewBackupMetrics(),
	})

	d := &Daemon{
		cfg:     cfg,
		version: version,
		client:  client,
		state:   st,
		gov:     gov,
		engine:  engine,
	}

	d.sched = scheduler.New(client, engine, d.LocalSites, scheduler.Config{
		Tick:          cfg.Scheduler.Tick,
		MaxConcurrent: cfg.Scheduler.MaxConcurrentBackups,
	})

	diskPath := "/"
	if len(cfg.Scanner.BasePaths) > 0 {
		diskPath = cfg.Scanner.BasePaths[0]
	}
	d.beacon = beacon.New(client, d.siteCount, beacon.Config{
		Interval: cfg.HeartbeatInterval,
		Version:  version,
		DiskPath: diskPath,
	})

	return d, nil
}

// Run starts the daemon's loops and blocks until ctx is done. Startup
// order matters: crash recovery and the storage-config refresh happen
// before any job can start.
func (d *Daemon) Run(ctx context.Context) error {
	defer func() { _ = d.state.Close() }()

	logger.Info("Agent starting",
		"version", d.version,
		"master", d.cfg.MasterURL,
		"base_paths", d.cfg.Scanner.BasePaths,
	)

	if err := d.engine.Recover(ctx); err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	d.refreshStorageConfig(ctx)
	d.rescan(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.beacon.Run(ctx) })
	g.Go(func() error { return d.sched.Run(ctx) })
	g.Go(func() error {
		return scanner.Watch(ctx, d.cfg.Scanner.BasePaths, func() { d.rescan(ctx) })
	})
	g.Go(func() error { return d.runPeriodicRescan(ctx) })
	if d.cfg.Metrics.Enabled {
		g.Go(func() error { return d.serveMetrics(ctx) })
	}

	err := g.Wait()
	logger.Info("Agent stopped")
	return err
}

// LocalSites returns the scanner's latest findings.
func (d *Daemon) LocalSites() []scanner.Site {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]scanner.Site(nil), d.sites...)
}

func (d *Daemon) siteCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sites)
}

// rescan walks the base paths and reports findings to the master. The
// master owns site identity; discovery only reports facts.
func (d *Daemon) rescan(ctx context.Context) {
	sites, err := scanner.Scan(d.cfg.Scanner.BasePaths)
	if err != nil {
		logger.Error("Site scan failed", "error", err)
		return
	}

	d.mu.Lock()
	d.sites = sites
	d.mu.Unlock()

	discovered := make([]apiclient.DiscoveredSite, 0, len(sites))
	for _, s := range sites {
		discovered = append(discovered, apiclient.DiscoveredSite{
			Name:          s.Name,
			Path:          s.Path,
			WPConfigPath:  s.WPConfigPath,
			WPContentPath: s.WPContentPath,
		})
	}

	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	synced, err := d.client.SyncSites(sctx, discovered)
	if err != nil {
		logger.Warn("Site sync failed", "found", len(sites), "error", err)
		return
	}
	logger.Info("Sites synced", "found", len(sites), "known", len(synced))
}

func (d *Daemon) runPeriodicRescan(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Scanner.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.rescan(ctx)
		}
	}
}

// refreshStorageConfig primes the credential cache and applies the
// node's bandwidth limit. A master outage at startup falls back to the
// cached copy so scheduled jobs still run.
func (d *Daemon) refreshStorageConfig(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cfg, err := d.client.FetchStorageConfig(sctx)
	if err != nil {
		logger.Warn("Storage config fetch failed, relying on cache", "error", err)
		return
	}
	if err := d.state.CacheStorageConfig(cfg); err != nil {
		logger.Warn("Failed to cache storage config", "error", err)
	}
	d.gov.SetBandwidthLimit(cfg.UploadBandwidthLimit)
	logger.Info("Storage config loaded",
		"provider", cfg.Provider,
		"bucket", cfg.Bucket,
		"bandwidth_limit", cfg.UploadBandwidthLimit,
	)
}

// serveMetrics exposes the Prometheus registry on the metrics port.
func (d *Daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", d.cfg.Metrics.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "port", d.cfg.Metrics.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
