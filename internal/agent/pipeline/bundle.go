package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/wpfleet/wpfleet/internal/logger"
)

// runBundle streams a tar of the dump and the file tree through an
// external zstd, bounded by the governor's CPU worker count. zstd beats
// anything the process could do in-house on WordPress trees and keeps
// the compression threads visible to the OS scheduler.
func (e *Engine) runBundle(ctx context.Context, job *Job, report bytesFn) error {
	zstd, err := exec.LookPath("zstd")
	if err != nil {
		return fail(KindConfig, stageBundle, fmt.Errorf("zstd not found in PATH: %w", err))
	}

	release, err := e.gov.AcquireIO(ctx)
	if err != nil {
		return classify(err, stageBundle, KindTransient)
	}
	defer release()

	entries := []string{}
	if job.dumpPath != "" {
		entries = append(entries, dumpFilename)
	}
	if job.configPath != "" {
		entries = append(entries, configFilename)
	}
	if job.filesDir != "" {
		entries = append(entries, filesDirname)
	}
	if len(entries) == 0 {
		return fail(KindFatal, stageBundle, errors.New("nothing to bundle"))
	}

	job.bundleName = job.bundleFilename()
	job.bundlePath = filepath.Join(job.TempDir, job.bundleName)

	out, err := os.Create(job.bundlePath)
	if err != nil {
		return fail(KindFatal, stageBundle, fmt.Errorf("create bundle: %w", err))
	}
	defer out.Close()

	// Total uncompressed size drives the fraction; tar's own output is
	// within a header's width of it.
	total, _ := treeSize(job.filesDir)
	if job.dumpPath != "" {
		if info, err := os.Stat(job.dumpPath); err == nil {
			total += info.Size()
		}
	}
	if job.configPath != "" {
		if info, err := os.Stat(job.configPath); err == nil {
			total += info.Size()
		}
	}

	tarArgs := append([]string{"-C", job.TempDir, "-cf", "-"}, entries...)
	tarCmd := exec.CommandContext(ctx, "tar", tarArgs...)
	tarOut, err := tarCmd.StdoutPipe()
	if err != nil {
		return fail(KindFatal, stageBundle, err)
	}

	zstdCmd := exec.CommandContext(ctx, zstd,
		"-q",
		fmt.Sprintf("-%d", e.cfg.ZstdLevel),
		fmt.Sprintf("-T%d", e.gov.CPUWorkers()),
	)
	zstdCmd.Stdin = &countingReader{r: tarOut, total: total, report: report}
	zstdCmd.Stdout = out

	if err := zstdCmd.Start(); err != nil {
		return fail(KindFatal, stageBundle, fmt.Errorf("start zstd: %w", err))
	}
	if err := tarCmd.Start(); err != nil {
		_ = zstdCmd.Process.Kill()
		_ = zstdCmd.Wait()
		return fail(KindFatal, stageBundle, fmt.Errorf("start tar: %w", err))
	}

	// zstd first: its stdin goroutine drains tar's stdout until the tar
	// process exits, and Wait on tar would close that pipe early.
	zstdErr := zstdCmd.Wait()
	tarErr := tarCmd.Wait()
	if ctx.Err() != nil {
		return classify(ctx.Err(), stageBundle, KindCancelled)
	}
	if tarErr != nil {
		return fail(KindFatal, stageBundle, fmt.Errorf("tar failed: %w", tarErr))
	}
	if zstdErr != nil {
		return fail(KindFatal, stageBundle, fmt.Errorf("zstd failed: %w", zstdErr))
	}
	if err := out.Sync(); err != nil {
		return fail(KindFatal, stageBundle, fmt.Errorf("sync bundle: %w", err))
	}

	info, err := os.Stat(job.bundlePath)
	if err != nil {
		return fail(KindFatal, stageBundle, err)
	}
	if info.Size() == 0 {
		return fail(KindIntegrity, stageBundle, errors.New("bundle is empty"))
	}
	job.bundleSize = info.Size()

	logger.Debug("Bundle created",
		"site", job.Site.Name,
		"bundle", job.bundleName,
		"bytes", job.bundleSize,
	)
	return nil
}

// countingReader reports cumulative bytes read through it.
type countingReader struct {
	r      io.Reader
	n      int64
	total  int64
	report bytesFn
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.report != nil && n > 0 {
		c.report(c.n, c.total)
	}
	return n, err
}
