package scanner

import (
	"fmt"
	"os"
	"regexp"
)

// Credentials are the database settings parsed from wp-config.php.
type Credentials struct {
	Name        string
	User        string
	Password    string
	Host        string
	TablePrefix string
}

// wp-config.php defines look like: define( 'DB_NAME', 'wordpress' );
// Both quote styles appear in the wild.
var defineRe = regexp.MustCompile(
	`define\s*\(\s*['"](DB_NAME|DB_USER|DB_PASSWORD|DB_HOST)['"]\s*,\s*['"]([^'"]*)['"]\s*\)`)

var tablePrefixRe = regexp.MustCompile(
	`\$table_prefix\s*=\s*['"]([^'"]*)['"]`)

// ParseWPConfig extracts database credentials from a wp-config.php.
// Missing defines leave their field empty; the pipeline falls back to
// the site record or fails the dump stage with a config error.
func ParseWPConfig(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read wp-config: %w", err)
	}

	var creds Credentials
	for _, m := range defineRe.FindAllSubmatch(data, -1) {
		value := string(m[2])
		switch string(m[1]) {
		case "DB_NAME":
			creds.Name = value
		case "DB_USER":
			creds.User = value
		case "DB_PASSWORD":
			creds.Password = value
		case "DB_HOST":
			creds.Host = value
		}
	}

	if m := tablePrefixRe.FindSubmatch(data); m != nil {
		creds.TablePrefix = string(m[1])
	}

	if creds.Host == "" {
		creds.Host = "localhost"
	}
	return creds, nil
}
