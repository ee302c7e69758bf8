// Package migrations embeds the SQL schema of the user directory so the
// server and the migrate CLI apply the same files.
package migrations

import "embed"

// FS holds every NNNNNN_name.up.sql and .down.sql file in this directory
//
//go:embed *.sql
var FS embed.FS
