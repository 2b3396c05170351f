// Package migrations embeds the document store schema.
package migrations

import "embed"

// FS holds the forward-only document store migrations.
//
//go:embed *.sql
var FS embed.FS
