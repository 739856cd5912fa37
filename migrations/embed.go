// Package migrations embeds the schema for the read-only formulary and
// prescribing datasets.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
