// Package migrations embeds the trace-archive SQL migrations, applied
// by the Postgres trace store at startup. Embedding keeps them working
// regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem, all .sql files in this
// directory.
//
//go:embed *.sql
var FS embed.FS
