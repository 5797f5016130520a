package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wpfleet/wpfleet/internal/logger"
)

// filesDirname is the wp-content mirror's name inside the temp dir and
// the bundle.
const filesDirname = "wp-content"

// configFilename is wp-config.php's name inside the temp dir and the
// bundle.
const configFilename = "wp-config.php"

// copyBufSize is the copy chunk; cancellation is checked between
// chunks, so a stop request lands mid-file within one buffer's worth.
const copyBufSize = 128 << 10

// contentExclusions are cache and build artifacts never worth backing
// up, matched relative to the wp-content root.
var contentExclusions = []string{
	"cache",
	"w3tc-config",
	"uploads/cache",
	"plugins/w3-total-cache/pub",
	"node_modules",
	".git",
	"debug.log",
}

// excludedEntry reports whether a wp-content-relative path is in the
// exclusion set. Matching the directory itself is enough: the walk
// prunes the subtree.
func excludedEntry(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, ex := range contentExclusions {
		if rel == ex {
			return true
		}
	}
	return false
}

// runFiles mirrors the site's wp-content tree into the temp dir, minus
// the exclusion set, and copies wp-config.php alongside it. Unreadable
// entries are logged and skipped rather than failing a multi-gigabyte
// job over one bad file.
func (e *Engine) runFiles(ctx context.Context, job *Job, report bytesFn) error {
	release, err := e.gov.AcquireIO(ctx)
	if err != nil {
		return classify(err, stageFiles, KindTransient)
	}
	defer release()

	if job.Local.WPContentPath == "" {
		return fail(KindConfig, stageFiles,
			fmt.Errorf("no wp-content directory under %s", job.Local.Path))
	}

	job.filesDir = filepath.Join(job.TempDir, filesDirname)
	if err := os.MkdirAll(job.filesDir, 0o700); err != nil {
		return fail(KindFatal, stageFiles, fmt.Errorf("create wp-content dir: %w", err))
	}

	buf := make([]byte, copyBufSize)

	if job.Local.WPConfigPath != "" {
		dst := filepath.Join(job.TempDir, configFilename)
		if _, err := copyFile(ctx, job.Local.WPConfigPath, dst, buf); err != nil {
			if ctx.Err() != nil {
				return classify(err, stageFiles, KindCancelled)
			}
			return fail(KindFatal, stageFiles, fmt.Errorf("copy wp-config.php: %w", err))
		}
		job.configPath = dst
	}

	total, err := contentTreeSize(job.Local.WPContentPath)
	if err != nil {
		return fail(KindFatal, stageFiles, fmt.Errorf("measure wp-content tree: %w", err))
	}

	var copied int64

	err = filepath.WalkDir(job.Local.WPContentPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warn("Skipping unreadable entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(job.Local.WPContentPath, path)
		if err != nil {
			return err
		}
		if rel != "." && excludedEntry(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		dst := filepath.Join(job.filesDir, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return nil
			}
			return os.MkdirAll(dst, info.Mode().Perm())

		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				logger.Warn("Skipping unreadable symlink", "path", path, "error", err)
				return nil
			}
			return os.Symlink(target, dst)

		case d.Type().IsRegular():
			n, err := copyFile(ctx, path, dst, buf)
			copied += n
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				logger.Warn("Skipping unreadable file", "path", path, "error", err)
				return nil
			}
			report(copied, total)
			return nil

		default:
			// Sockets, fifos, devices: nothing a backup can restore.
			return nil
		}
	})
	if err != nil {
		return classify(err, stageFiles, KindFatal)
	}

	logger.Debug("Site files copied", "site", job.Site.Name, "bytes", copied)
	return nil
}

// contentTreeSize sums regular-file sizes under the wp-content root,
// honoring the exclusion set. Unreadable entries count as zero; the
// total only drives the progress fraction.
func contentTreeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if rel != "." && excludedEntry(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// treeSize sums regular-file sizes under root. Unreadable entries count
// as zero; the total only drives the progress fraction.
func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// copyFile copies src to dst, checking cancellation between chunks.
func copyFile(ctx context.Context, src, dst string, buf []byte) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
