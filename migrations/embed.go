// Package migrations embeds the SQL schema applied by cmd/migrate and cmd/api.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
