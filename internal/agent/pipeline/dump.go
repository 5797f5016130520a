package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/wpfleet/wpfleet/internal/agent/scanner"
	"github.com/wpfleet/wpfleet/internal/logger"
)

// dumpFilename is the database dump's name inside the temp dir and the
// bundle.
const dumpFilename = "database.sql"

// runDump executes mysqldump into the temp dir. Credentials come from
// the site's wp-config.php; a site with no wp-config (static or broken
// install) skips the dump and backs up files only.
func (e *Engine) runDump(ctx context.Context, job *Job, report bytesFn) error {
	creds, err := dumpCredentials(job)
	if err != nil {
		return fail(KindConfig, stageDumpDB, err)
	}
	if creds == nil {
		logger.Info("No database credentials, skipping dump", "site", job.Site.Name)
		return nil
	}

	mysqldump, err := exec.LookPath("mysqldump")
	if err != nil {
		return fail(KindConfig, stageDumpDB, fmt.Errorf("mysqldump not found in PATH: %w", err))
	}

	release, err := e.gov.AcquireIO(ctx)
	if err != nil {
		return classify(err, stageDumpDB, KindTransient)
	}
	defer release()

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DumpTimeout)
	defer cancel()

	job.dumpPath = filepath.Join(job.TempDir, dumpFilename)
	out, err := os.Create(job.dumpPath)
	if err != nil {
		return fail(KindFatal, stageDumpDB, fmt.Errorf("create dump file: %w", err))
	}
	defer out.Close()

	// --single-transaction keeps InnoDB tables consistent without
	// locking the live site; --quick streams rows instead of buffering
	// whole tables.
	cmd := exec.CommandContext(dctx, mysqldump,
		"--add-drop-table",
		"--single-transaction",
		"--quick",
		"--host", creds.Host,
		"--user", creds.User,
		creds.Name,
	)
	// The password goes through the environment, not argv, so it never
	// shows in the process table.
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+creds.Password)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	counter := &countingWriter{w: out, report: report}
	cmd.Stdout = counter

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return classify(ctx.Err(), stageDumpDB, KindCancelled)
		}
		if dctx.Err() == context.DeadlineExceeded {
			return fail(KindTransient, stageDumpDB, fmt.Errorf("mysqldump timed out after %s", e.cfg.DumpTimeout))
		}
		return fail(KindFatal, stageDumpDB, fmt.Errorf("mysqldump failed: %w: %s", err, stderrTail(&stderr)))
	}
	if err := out.Sync(); err != nil {
		return fail(KindFatal, stageDumpDB, fmt.Errorf("sync dump file: %w", err))
	}

	if counter.n == 0 {
		return fail(KindIntegrity, stageDumpDB, errors.New("mysqldump produced an empty dump"))
	}
	logger.Debug("Database dump complete", "site", job.Site.Name, "bytes", counter.n)
	return nil
}

// dumpCredentials resolves database credentials: the parsed wp-config
// wins, falling back to a fresh parse when the scanner snapshot
// predates a config change. Nil with no error means "no database".
func dumpCredentials(job *Job) (*scanner.Credentials, error) {
	if job.Local.DB.Name != "" {
		creds := job.Local.DB
		return &creds, nil
	}
	if job.Local.WPConfigPath == "" {
		return nil, nil
	}
	creds, err := scanner.ParseWPConfig(job.Local.WPConfigPath)
	if err != nil {
		return nil, fmt.Errorf("parse wp-config.php: %w", err)
	}
	if creds.Name == "" {
		return nil, errors.New("wp-config.php has no DB_NAME")
	}
	return &creds, nil
}

// countingWriter forwards to w and reports cumulative bytes. The dump's
// final size is unknown, so the total stays zero.
type countingWriter struct {
	w      io.Writer
	n      int64
	report bytesFn
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.report != nil {
		c.report(c.n, 0)
	}
	return n, err
}

// stderrTail returns the last chunk of a captured stderr, enough to
// diagnose without flooding the progress row.
func stderrTail(buf *bytes.Buffer) string {
	const max = 512
	s := buf.String()
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
