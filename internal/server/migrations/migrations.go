// Package migrations embeds the goose migrations of the document service
// database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
