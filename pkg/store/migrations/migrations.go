// Package migrations embeds the versioned PostgreSQL schema for the
// master store.
package migrations

import "embed"

// FS holds the embedded migration SQL files.
//
//go:embed *.sql
var FS embed.FS
