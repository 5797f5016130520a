package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWPConfig = `<?php
define( 'DB_NAME', 'blog_db' );
define( 'DB_USER', 'blog_user' );
define( 'DB_PASSWORD', 'p@ssw0rd!' );
define( 'DB_HOST', 'db.internal' );
define( 'DB_CHARSET', 'utf8mb4' );

$table_prefix = 'wp7_';
`

func writeSite(t *testing.T, base, name, docroot string, withConfig bool) string {
	t.Helper()
	dir := filepath.Join(base, name)
	if docroot != "." {
		dir = filepath.Join(dir, docroot)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "wp-content", "themes"), 0755))
	if withConfig {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "wp-config.php"), []byte(sampleWPConfig), 0644))
	}
	return dir
}

func TestScanFindsSites(t *testing.T) {
	base := t.TempDir()

	blogDir := writeSite(t, base, "blog.example.com", "htdocs", true)
	shopDir := writeSite(t, base, "shop.example.com", ".", false)

	// Distractors: dotted dir, cgi-bin, plain dir with no WP markers.
	require.NoError(t, os.MkdirAll(filepath.Join(base, ".cache"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "cgi-bin"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "static-site", "html"), 0755))

	sites, err := Scan([]string{base})
	require.NoError(t, err)
	require.Len(t, sites, 2)

	byName := map[string]Site{}
	for _, s := range sites {
		byName[s.Name] = s
	}

	blog := byName["blog.example.com"]
	assert.Equal(t, blogDir, blog.Path)
	assert.Equal(t, filepath.Join(blogDir, "wp-config.php"), blog.WPConfigPath)
	assert.Equal(t, "blog_db", blog.DB.Name)

	shop := byName["shop.example.com"]
	assert.Equal(t, shopDir, shop.Path)
	// No wp-config: discovered via wp-content/themes.
	assert.Empty(t, shop.WPConfigPath)
	assert.Equal(t, filepath.Join(shopDir, "wp-content"), shop.WPContentPath)
}

func TestScanDocrootPrecedence(t *testing.T) {
	base := t.TempDir()
	// Both htdocs and public_html qualify; htdocs wins.
	htdocs := writeSite(t, base, "site", "htdocs", true)
	writeSite(t, base, "site", "public_html", true)

	sites, err := Scan([]string{base})
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, htdocs, sites[0].Path)
}

func TestScanMissingBasePath(t *testing.T) {
	sites, err := Scan([]string{filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestParseWPConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wp-config.php")
	require.NoError(t, os.WriteFile(path, []byte(sampleWPConfig), 0644))

	creds, err := ParseWPConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "blog_db", creds.Name)
	assert.Equal(t, "blog_user", creds.User)
	assert.Equal(t, "p@ssw0rd!", creds.Password)
	assert.Equal(t, "db.internal", creds.Host)
	assert.Equal(t, "wp7_", creds.TablePrefix)
}

func TestParseWPConfigDefaultsHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wp-config.php")
	content := `<?php
define('DB_NAME', 'min_db');
define('DB_USER', 'min');
define('DB_PASSWORD', '');
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	creds, err := ParseWPConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "min_db", creds.Name)
	assert.Equal(t, "localhost", creds.Host)
	assert.Empty(t, creds.TablePrefix)
}
