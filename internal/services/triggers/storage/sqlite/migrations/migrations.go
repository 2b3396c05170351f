// Package migrations embeds the attempt ledger schema.
package migrations

import "embed"

// FS holds the forward-only attempt ledger migrations.
//
//go:embed *.sql
var FS embed.FS
