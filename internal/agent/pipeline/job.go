// Package pipeline runs backup jobs on the node: database dump, file
// copy, bundle creation, upload and cleanup, with progress pushed to
// the master under an epoch fencing token.
package pipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wpfleet/wpfleet/internal/agent/scanner"
	"github.com/wpfleet/wpfleet/pkg/apiclient"
)

// Job carries everything one backup run needs, plus the artifacts the
// stages hand to each other.
type Job struct {
	// ID names the temp directory and the crash-journal entry.
	ID string

	// Site is the master's record: ids, timezone, quota, schedule.
	Site apiclient.Site

	// Local is what the scanner found on disk: docroot and, when a
	// wp-config.php was present, database credentials.
	Local scanner.Site

	// Epoch fences this job's progress writes.
	Epoch int64

	// TempDir is <temp_root>/<job_id>, created before the first stage
	// and removed by cleanup.
	TempDir string

	// EstimateBytes is the pre-flight size estimate.
	EstimateBytes int64

	StartedAt time.Time

	// Stage outputs.
	dumpPath   string
	configPath string
	filesDir   string
	bundleName string
	bundlePath string
	bundleSize int64
	objectKey  string
}

// newJob assigns a fresh job id. The temp dir is filled in by the
// engine once the temp root is known.
func newJob(site apiclient.Site, local scanner.Site, epoch int64) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Site:      site,
		Local:     local,
		Epoch:     epoch,
		StartedAt: time.Now(),
	}
}

// bundleFilename builds {site_name}_{YYYYMMDD}_{HHMMSS}.tar.zst with
// the timestamp rendered in the site's timezone.
func (j *Job) bundleFilename() string {
	loc, err := time.LoadLocation(j.Site.Timezone)
	if err != nil || j.Site.Timezone == "" {
		loc = time.UTC
	}
	stamp := j.StartedAt.In(loc).Format("20060102_150405")
	return sanitizeName(j.Site.Name) + "_" + stamp + ".tar.zst"
}

// sanitizeName makes a site name safe for filenames and object keys.
func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	return r.Replace(name)
}
