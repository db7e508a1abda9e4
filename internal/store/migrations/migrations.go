// Package migrations embeds the local state database schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
