// Package migrations embeds the SQL schema so binaries and test harnesses
// apply the same files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
