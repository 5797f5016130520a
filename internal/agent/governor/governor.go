// Package governor bounds the resources backup jobs may consume on a
// production web server: concurrent disk-heavy operations, concurrent
// uploads, compression threads, and upload bandwidth.
package governor

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config sets the governor's limits. Zero values take defaults.
type Config struct {
	// IOPermits is the number of concurrent disk-heavy operations
	// (dumps, file copies, archive creation). Default 2.
	IOPermits int

	// NetPermits is the number of concurrent uploads. Default 1.
	NetPermits int

	// CPUWorkers caps compression threads. Default min(cores, 4).
	CPUWorkers int

	// BandwidthLimit is the upload rate cap in bytes/second.
	// Zero means unlimited.
	BandwidthLimit int64
}

// Governor hands out resource permits to pipeline stages. Permits are
// FIFO and context-aware; a cancelled job never holds one.
type Governor struct {
	io  *semaphore.Weighted
	net *semaphore.Weighted

	cpuWorkers int

	mu      sync.Mutex
	limiter *rate.Limiter
}

// New creates a Governor from config.
func New(cfg Config) *Governor {
	ioPermits := cfg.IOPermits
	if ioPermits <= 0 {
		ioPermits = 2
	}
	netPermits := cfg.NetPermits
	if netPermits <= 0 {
		netPermits = 1
	}
	cpuWorkers := cfg.CPUWorkers
	if cpuWorkers <= 0 {
		cpuWorkers = runtime.NumCPU()
		if cpuWorkers > 4 {
			cpuWorkers = 4
		}
	}

	g := &Governor{
		io:         semaphore.NewWeighted(int64(ioPermits)),
		net:        semaphore.NewWeighted(int64(netPermits)),
		cpuWorkers: cpuWorkers,
	}
	g.SetBandwidthLimit(cfg.BandwidthLimit)
	return g
}

// AcquireIO blocks until a disk permit is available. The returned
// release function must be called exactly once.
func (g *Governor) AcquireIO(ctx context.Context) (func(), error) {
	if err := g.io.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire io permit: %w", err)
	}
	return func() { g.io.Release(1) }, nil
}

// AcquireNet blocks until an upload permit is available.
func (g *Governor) AcquireNet(ctx context.Context) (func(), error) {
	if err := g.net.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire net permit: %w", err)
	}
	return func() { g.net.Release(1) }, nil
}

// CPUWorkers returns the compression thread cap, passed to zstd -T.
func (g *Governor) CPUWorkers() int {
	return g.cpuWorkers
}

// SetBandwidthLimit replaces the upload rate cap. Zero or negative
// removes the cap. Safe to call while uploads are running; the master's
// tiered setting is re-applied on every storage-config refresh.
func (g *Governor) SetBandwidthLimit(bytesPerSecond int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if bytesPerSecond <= 0 {
		g.limiter = nil
		return
	}
	// Burst of one second's quota keeps large buffer writes smooth.
	g.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
}

// WaitUpload blocks until n bytes of upload budget are available. With
// no cap set it returns immediately. Requests larger than the burst are
// satisfied in burst-sized installments, so a 64 MiB part still smooths
// out over the configured rate.
func (g *Governor) WaitUpload(ctx context.Context, n int) error {
	g.mu.Lock()
	limiter := g.limiter
	g.mu.Unlock()

	if limiter == nil || n <= 0 {
		return nil
	}
	burst := limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
