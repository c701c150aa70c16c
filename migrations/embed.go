// Package migrations embeds the SQL schema for the sqlite conversation store.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
