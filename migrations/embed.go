// Package migrations embeds the goose SQL migrations of the submission ledger.
package migrations

import "embed"

// FS holds the migration files.
//
//go:embed *.sql
var FS embed.FS
