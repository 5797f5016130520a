package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/internal/agent/governor"
	"github.com/wpfleet/wpfleet/internal/agent/scanner"
	"github.com/wpfleet/wpfleet/internal/agent/state"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
	"github.com/wpfleet/wpfleet/pkg/config"
)

func testEngine(t *testing.T, masterURL string) *Engine {
	t.Helper()

	st, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var client *apiclient.Client
	if masterURL != "" {
		client = apiclient.New(masterURL).WithAPIKey("test-key")
	}

	return New(Options{
		Config: config.PipelineConfig{
			DumpTimeout:   time.Minute,
			UploadTimeout: time.Minute,
			ZstdLevel:     3,
			StaleGrace:    24 * time.Hour,
		},
		TempRoot: t.TempDir(),
		Client:   client,
		Governor: governor.New(governor.Config{}),
		State:    st,
	})
}

// fakeBin drops an executable shell script on a private PATH.
func fakeBin(t *testing.T, name, script string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestBundleFilenameUsesSiteTimezone(t *testing.T) {
	job := newJob(apiclient.Site{Name: "blog.example.com", Timezone: "Africa/Harare"}, scanner.Site{}, 1)
	job.StartedAt = time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)

	// Harare is UTC+2, so 22:30 UTC rolls into the next day.
	assert.Equal(t, "blog.example.com_20260302_003000.tar.zst", job.bundleFilename())
}

func TestBundleFilenameSanitizesName(t *testing.T) {
	job := newJob(apiclient.Site{Name: "my site/../etc"}, scanner.Site{}, 1)
	name := job.bundleFilename()
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, " ")
	assert.NotContains(t, name, "..")
}

func TestClassifyPassesThroughAndMapsContexts(t *testing.T) {
	orig := fail(KindQuotaExceeded, "preflight", fmt.Errorf("denied"))
	assert.Equal(t, orig, classify(fmt.Errorf("wrapped: %w", orig), "backup_db", KindFatal))

	perr := classify(context.Canceled, "backup_files", KindFatal)
	assert.Equal(t, KindCancelled, perr.Kind)

	perr = classify(context.DeadlineExceeded, "upload_remote", KindFatal)
	assert.Equal(t, KindTransient, perr.Kind)

	perr = classify(fmt.Errorf("boom"), "create_bundle", KindIntegrity)
	assert.Equal(t, KindIntegrity, perr.Kind)
	assert.Equal(t, "create_bundle", perr.Stage)
}

func TestCopyFileHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, make([]byte, 1<<20), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := copyFile(ctx, src, filepath.Join(dir, "dst"), make([]byte, copyBufSize))
	assert.ErrorIs(t, err, context.Canceled)
}

// testDocroot lays out a WordPress install and returns the scanner view.
func testDocroot(t *testing.T) (string, scanner.Site) {
	t.Helper()
	docroot := t.TempDir()
	content := filepath.Join(docroot, "wp-content")
	require.NoError(t, os.MkdirAll(filepath.Join(content, "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docroot, "wp-config.php"), []byte("<?php define('DB_NAME', 'blog');"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(content, "uploads", "a.jpg"), []byte("jpeg"), 0o644))

	return docroot, scanner.Site{
		Path:          docroot,
		WPConfigPath:  filepath.Join(docroot, "wp-config.php"),
		WPContentPath: content,
	}
}

func TestRunFilesMirrorsWPContent(t *testing.T) {
	e := testEngine(t, "")

	docroot, local := testDocroot(t)
	require.NoError(t, os.Symlink("uploads/a.jpg", filepath.Join(docroot, "wp-content", "latest.jpg")))

	job := newJob(apiclient.Site{Name: "blog"}, local, 1)
	job.TempDir = filepath.Join(e.tempRoot, job.ID)
	require.NoError(t, os.MkdirAll(job.TempDir, 0o700))

	var lastProcessed, lastTotal int64
	err := e.runFiles(context.Background(), job, func(processed, total int64) {
		lastProcessed, lastTotal = processed, total
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(job.filesDir, "uploads", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	target, err := os.Readlink(filepath.Join(job.filesDir, "latest.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.jpg", target)

	// wp-config.php rides next to the mirror, not inside it.
	cfg, err := os.ReadFile(job.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "DB_NAME")
	assert.Equal(t, filepath.Join(job.TempDir, "wp-config.php"), job.configPath)

	assert.Equal(t, lastTotal, lastProcessed)
	assert.Equal(t, int64(len("jpeg")), lastTotal)
}

func TestRunFilesExcludesCacheArtifacts(t *testing.T) {
	e := testEngine(t, "")

	_, local := testDocroot(t)
	excluded := []string{
		"cache/f.txt",
		"w3tc-config/f.txt",
		"uploads/cache/f.txt",
		"plugins/w3-total-cache/pub/f.txt",
		"node_modules/f.txt",
		".git/f.txt",
	}
	for _, rel := range excluded {
		path := filepath.Join(local.WPContentPath, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(local.WPContentPath, "debug.log"), []byte("notice"), 0o644))

	job := newJob(apiclient.Site{Name: "blog"}, local, 1)
	job.TempDir = filepath.Join(e.tempRoot, job.ID)
	require.NoError(t, os.MkdirAll(job.TempDir, 0o700))

	var lastTotal int64
	require.NoError(t, e.runFiles(context.Background(), job, func(_, total int64) {
		lastTotal = total
	}))

	for _, rel := range excluded {
		assert.NoFileExists(t, filepath.Join(job.filesDir, rel), rel)
	}
	assert.NoFileExists(t, filepath.Join(job.filesDir, "debug.log"))
	assert.FileExists(t, filepath.Join(job.filesDir, "uploads", "a.jpg"))

	// The progress total counts only what is copied.
	assert.Equal(t, int64(len("jpeg")), lastTotal)
}

func TestRunFilesRequiresWPContent(t *testing.T) {
	e := testEngine(t, "")
	job := newJob(apiclient.Site{Name: "blog"}, scanner.Site{Path: t.TempDir()}, 1)
	job.TempDir = filepath.Join(e.tempRoot, job.ID)
	require.NoError(t, os.MkdirAll(job.TempDir, 0o700))

	err := e.runFiles(context.Background(), job, func(int64, int64) {})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindConfig, perr.Kind)
}

func TestRunDumpUsesWPConfigCredentials(t *testing.T) {
	fakeBin(t, "mysqldump", `#!/bin/sh
[ "$1" = "--add-drop-table" ] || exit 64
[ "$MYSQL_PWD" = "p@ssw0rd!" ] || exit 65
echo "-- MySQL dump"
echo "CREATE TABLE wp_posts (id INT);"
`)

	e := testEngine(t, "")
	job := newJob(apiclient.Site{Name: "blog"}, scanner.Site{
		DB: scanner.Credentials{Name: "blog_db", User: "blog", Password: "p@ssw0rd!", Host: "localhost"},
	}, 1)
	job.TempDir = t.TempDir()

	require.NoError(t, e.runDump(context.Background(), job, func(int64, int64) {}))

	data, err := os.ReadFile(job.dumpPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE wp_posts")
}

func TestRunDumpSkipsSitesWithoutDatabase(t *testing.T) {
	e := testEngine(t, "")
	job := newJob(apiclient.Site{Name: "static"}, scanner.Site{}, 1)
	job.TempDir = t.TempDir()

	require.NoError(t, e.runDump(context.Background(), job, func(int64, int64) {}))
	assert.Empty(t, job.dumpPath)
}

func TestRunDumpEmptyOutputIsIntegrityFailure(t *testing.T) {
	fakeBin(t, "mysqldump", "#!/bin/sh\nexit 0\n")

	e := testEngine(t, "")
	job := newJob(apiclient.Site{Name: "blog"}, scanner.Site{
		DB: scanner.Credentials{Name: "db", User: "u", Password: "p", Host: "localhost"},
	}, 1)
	job.TempDir = t.TempDir()

	err := e.runDump(context.Background(), job, func(int64, int64) {})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindIntegrity, perr.Kind)
}

func TestRunBundleProducesArchive(t *testing.T) {
	// Stand-in zstd: pass the tar stream through unchanged.
	fakeBin(t, "zstd", "#!/bin/sh\nexec cat\n")

	e := testEngine(t, "")
	job := newJob(apiclient.Site{Name: "blog", Timezone: "UTC"}, scanner.Site{}, 1)
	job.TempDir = t.TempDir()

	job.dumpPath = filepath.Join(job.TempDir, dumpFilename)
	require.NoError(t, os.WriteFile(job.dumpPath, []byte("-- dump\n"), 0o600))
	job.configPath = filepath.Join(job.TempDir, configFilename)
	require.NoError(t, os.WriteFile(job.configPath, []byte("<?php"), 0o600))
	job.filesDir = filepath.Join(job.TempDir, filesDirname)
	require.NoError(t, os.MkdirAll(job.filesDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(job.filesDir, "index.php"), []byte("<?php"), 0o644))

	require.NoError(t, e.runBundle(context.Background(), job, func(int64, int64) {}))

	info, err := os.Stat(job.bundlePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, job.bundleName, filepath.Base(job.bundlePath))
	assert.Equal(t, job.bundleSize, info.Size())

	// The pass-through zstd leaves a plain tar; check the archive layout.
	listing, err := exec.Command("tar", "-tf", job.bundlePath).Output()
	require.NoError(t, err)
	assert.Contains(t, string(listing), "database.sql")
	assert.Contains(t, string(listing), "wp-config.php")
	assert.Contains(t, string(listing), "wp-content/")
}

func TestRunUploadQuotaDenialWithBundleSize(t *testing.T) {
	var gotBytes atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/daemon/quota/preflight", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EstimatedBytes int64 `json:"estimated_bytes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotBytes.Store(req.EstimatedBytes)

		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusInsufficientStorage)
		_, _ = w.Write([]byte(`{"title":"Insufficient Storage","detail":"Site quota exceeded","status":507}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := testEngine(t, srv.URL)
	job := newJob(apiclient.Site{ID: 7, Name: "blog"}, scanner.Site{}, 1)
	job.bundleSize = 9 << 20

	err := e.runUpload(context.Background(), job, func(int64, int64) {})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindQuotaExceeded, perr.Kind)
	assert.Equal(t, stageUpload, perr.Stage)

	// The check carries the real bundle size, not the estimate.
	assert.Equal(t, int64(9<<20), gotBytes.Load())
}

func TestCancelledJobLeavesNoBackupRow(t *testing.T) {
	var reportCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/daemon/backup/progress/5", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"site_id":5,"epoch":1,"state":"stopped"}`))
	})
	mux.HandleFunc("POST /api/v1/daemon/backup/report", func(w http.ResponseWriter, r *http.Request) {
		reportCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := testEngine(t, srv.URL)

	job := newJob(apiclient.Site{ID: 5, Name: "blog"}, scanner.Site{}, 1)
	job.TempDir = filepath.Join(e.tempRoot, job.ID)
	rep := newReporter(e.client, 5, 1, func() {})

	// A stop mid-upload ends in the STOPPED progress row only.
	e.finishFailure(job, rep, fail(KindCancelled, stageUpload, fmt.Errorf("stop requested")))
	assert.Equal(t, int64(0), reportCalls.Load())

	// A genuine failure still posts the accounting report.
	e.finishFailure(job, rep, fail(KindFatal, stageUpload, fmt.Errorf("disk on fire")))
	assert.Equal(t, int64(1), reportCalls.Load())
}

func TestEstimateSizePrecedence(t *testing.T) {
	e := testEngine(t, "")
	site := apiclient.Site{ID: 7}

	// Nothing known: flat default.
	assert.Equal(t, int64(defaultEstimate), e.estimateSize(site, 0))

	// A hint beats the default.
	assert.Equal(t, int64(555), e.estimateSize(site, 555))

	// Master accounting beats the hint.
	site.StorageUsedBytes = 1000
	site.RetentionCopies = 4
	assert.Equal(t, int64(250), e.estimateSize(site, 555))

	// The cached last bundle beats everything.
	require.NoError(t, e.state.SetLastBackupSize(7, 4096))
	assert.Equal(t, int64(4096), e.estimateSize(site, 555))
}

func TestReporterThrottlesAndDetectsCancellation(t *testing.T) {
	var pushes atomic.Int64
	var sawCancel atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/daemon/backup/progress/7", func(w http.ResponseWriter, r *http.Request) {
		n := pushes.Add(1)
		var update apiclient.ProgressUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&update))
		assert.Equal(t, int64(3), update.Epoch)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiclient.Progress{
			SiteID:          7,
			Epoch:           update.Epoch,
			State:           update.State,
			CancelRequested: n >= 3,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := newReporter(apiclient.New(srv.URL).WithAPIKey("k"), 7, 3, func() { sawCancel.Store(true) })

	rep.enterStage(ctx, stageOrder[0])
	// Rapid-fire progress: the throttle must collapse these.
	for i := 0; i < 50; i++ {
		rep.progress(ctx, int64(i), 100)
	}
	assert.LessOrEqual(t, pushes.Load(), int64(2))

	// Stage transitions push unconditionally; the third push carries
	// the cancel flag.
	rep.finishStage(stageOrder[0])
	rep.enterStage(ctx, stageOrder[1])
	rep.enterStage(ctx, stageOrder[2])

	cancelled, conflict := rep.aborted()
	assert.True(t, cancelled)
	assert.False(t, conflict)
	assert.True(t, sawCancel.Load())
}

func TestReporterConflictStopsJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/daemon/backup/progress/9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"title":"Conflict","detail":"Progress write from a stale epoch","status":409}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var stopped atomic.Bool
	rep := newReporter(apiclient.New(srv.URL).WithAPIKey("k"), 9, 1, func() { stopped.Store(true) })
	rep.enterStage(context.Background(), stageOrder[0])

	_, conflict := rep.aborted()
	assert.True(t, conflict)
	assert.True(t, stopped.Load())
}

func TestRecoverSweepsOrphansAndStaleDirs(t *testing.T) {
	var resetCalls atomic.Int64
	var reportCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/daemon/backup/reset/4", func(w http.ResponseWriter, r *http.Request) {
		resetCalls.Add(1)
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"reset"}`))
	})
	mux.HandleFunc("POST /api/v1/daemon/backup/report", func(w http.ResponseWriter, r *http.Request) {
		reportCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := testEngine(t, srv.URL)

	// A journaled orphan with its temp dir still on disk.
	orphanDir := filepath.Join(e.tempRoot, "orphan-job")
	require.NoError(t, os.MkdirAll(orphanDir, 0o700))
	require.NoError(t, e.state.JournalJob(&state.JobRecord{
		JobID:     "orphan-job",
		SiteID:    4,
		SiteName:  "blog",
		Epoch:     2,
		TempDir:   orphanDir,
		StartedAt: time.Now().Add(-2 * time.Hour),
	}))

	// An unjournaled stale dir and a fresh one.
	staleDir := filepath.Join(e.tempRoot, "stale")
	require.NoError(t, os.MkdirAll(staleDir, 0o700))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(staleDir, old, old))

	freshDir := filepath.Join(e.tempRoot, "fresh")
	require.NoError(t, os.MkdirAll(freshDir, 0o700))

	require.NoError(t, e.Recover(context.Background()))

	assert.Equal(t, int64(1), resetCalls.Load())
	assert.Equal(t, int64(1), reportCalls.Load())
	assert.NoDirExists(t, orphanDir)
	assert.NoDirExists(t, staleDir)
	assert.DirExists(t, freshDir)

	orphans, err := e.state.OrphanedJobs()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
