// Package migrations embeds the SQL schema files so the migration runner
// works regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem (every .sql file in this directory).
//
//go:embed *.sql
var FS embed.FS
