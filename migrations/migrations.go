// Package migrations embeds the simulator's PostgreSQL schema.
package migrations

import "embed"

// FS holds the golang-migrate files.
//
//go:embed *.sql
var FS embed.FS
