// Package scanner discovers WordPress installations on the node and
// extracts their database credentials from wp-config.php.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// docroot candidates under each site directory, checked in order.
// "." covers sites whose directory is itself the docroot.
var docrootCandidates = []string{"htdocs", "public_html", "html", "www", "."}

// skipped directory names inside base paths.
var skippedDirs = map[string]bool{
	"cgi-bin": true,
	"logs":    true,
}

// Site is one discovered WordPress installation.
type Site struct {
	// Name is the site directory name under the base path
	Name string

	// Path is the docroot containing the WordPress installation
	Path string

	// WPConfigPath is the wp-config.php location, when present
	WPConfigPath string

	// WPContentPath is the wp-content directory, when present
	WPContentPath string

	// DB holds credentials parsed from wp-config.php; zero when the
	// config is missing or unparsable
	DB Credentials
}

// Scan walks the base paths and returns the WordPress sites found,
// sorted by path. Unreadable directories are skipped, not fatal: a
// single broken vhost must not hide the rest of the fleet.
func Scan(basePaths []string) ([]Site, error) {
	var sites []Site
	seen := make(map[string]bool)

	for _, base := range basePaths {
		entries, err := os.ReadDir(base)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read base path %s: %w", base, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := entry.Name()
			if name[0] == '.' || skippedDirs[name] {
				continue
			}

			siteDir := filepath.Join(base, name)
			docroot, ok := findDocroot(siteDir)
			if !ok || seen[docroot] {
				continue
			}
			seen[docroot] = true

			sites = append(sites, buildSite(name, docroot))
		}
	}

	sort.Slice(sites, func(i, j int) bool { return sites[i].Path < sites[j].Path })
	return sites, nil
}

// findDocroot returns the first candidate subdirectory of siteDir that
// holds a WordPress installation.
func findDocroot(siteDir string) (string, bool) {
	for _, candidate := range docrootCandidates {
		dir := siteDir
		if candidate != "." {
			dir = filepath.Join(siteDir, candidate)
		}
		if isWordPress(dir) {
			return dir, true
		}
	}
	return "", false
}

// isWordPress reports whether dir looks like a WordPress docroot:
// either a wp-config.php, or a wp-content directory that actually has
// themes or plugins in it.
func isWordPress(dir string) bool {
	if fileExists(filepath.Join(dir, "wp-config.php")) {
		return true
	}

	content := filepath.Join(dir, "wp-content")
	if !dirExists(content) {
		return false
	}
	return dirExists(filepath.Join(content, "themes")) ||
		dirExists(filepath.Join(content, "plugins"))
}

func buildSite(name, docroot string) Site {
	site := Site{
		Name: name,
		Path: docroot,
	}

	if cfg := filepath.Join(docroot, "wp-config.php"); fileExists(cfg) {
		site.WPConfigPath = cfg
		if creds, err := ParseWPConfig(cfg); err == nil {
			site.DB = creds
		}
	}
	if content := filepath.Join(docroot, "wp-content"); dirExists(content) {
		site.WPContentPath = content
	}
	return site
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
