// Package migrations embeds the SQL schema migrations so the binary can
// provision its own job table at startup without files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
