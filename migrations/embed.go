// Package migrations embeds the SQL migrations applied at startup.
package migrations

import "embed"

// Files holds all .sql files from this directory (order matters: 001, 002, ...).
//
//go:embed *.sql
var Files embed.FS
