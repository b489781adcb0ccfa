// Package migrations embeds the SQL schema history.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
