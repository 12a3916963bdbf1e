// Package migrations embeds the Postgres schema for the command log and
// the read projections.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
