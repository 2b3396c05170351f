// Package migrations embeds the feed log schema.
package migrations

import "embed"

// FS holds the forward-only feed log migrations.
//
//go:embed *.sql
var FS embed.FS
