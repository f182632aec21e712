// Package migrations embeds the SQL migrations for the bridge job store.
package migrations

import "embed"

// FS holds the migration files applied at store open.
//
//go:embed *.sql
var FS embed.FS
