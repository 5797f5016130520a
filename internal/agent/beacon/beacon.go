// Package beacon reports the node's vitals to the master on a fixed
// interval: hostname, advertised address, site count, disk capacity and
// load. The master's freshness window for node health keys off these.
package beacon

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

// Config sets the beacon's reporting parameters.
type Config struct {
	// Interval between heartbeats. Default 5 minutes.
	Interval time.Duration

	// Address is the advertised address. Empty lets the master keep
	// whatever it recorded at enrollment.
	Address string

	// Version is the agent's build version string.
	Version string

	// DiskPath is the volume whose capacity is reported, normally the
	// sites' base path.
	DiskPath string
}

// Beacon sends periodic heartbeats.
type Beacon struct {
	client    *apiclient.Client
	siteCount func() int
	cfg       Config
}

// New creates a Beacon. siteCount is read at send time so heartbeats
// track the scanner.
func New(client *apiclient.Client, siteCount func() int, cfg Config) *Beacon {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &Beacon{client: client, siteCount: siteCount, cfg: cfg}
}

// Run sends a heartbeat immediately and then on every interval. Blocks
// until ctx is done.
func (b *Beacon) Run(ctx context.Context) error {
	b.send(ctx)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.send(ctx)
		}
	}
}

func (b *Beacon) send(ctx context.Context) {
	hostname, _ := os.Hostname()
	total, free := diskUsage(b.cfg.DiskPath)

	hb := apiclient.Heartbeat{
		Hostname:     hostname,
		Address:      b.cfg.Address,
		AgentVersion: b.cfg.Version,
		SiteCount:    b.siteCount(),
		DiskTotal:    total,
		DiskFree:     free,
		Load1m:       load1m(),
	}

	sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := b.client.SendHeartbeat(sctx, hb); err != nil {
		logger.Warn("Heartbeat failed", "error", err)
		return
	}
	logger.Debug("Heartbeat sent", "sites", hb.SiteCount, "disk_free", hb.DiskFree)
}

// diskUsage returns total and free bytes for the volume holding path.
func diskUsage(path string) (total, free int64) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, 0
	}
	bsize := int64(fs.Bsize)
	return int64(fs.Blocks) * bsize, int64(fs.Bavail) * bsize
}

// load1m reads the one-minute load average.
func load1m() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return float64(info.Loads[0]) / 65536.0
}
