// Package migrations embeds the versioned SQL schema and reference seed.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
