// Package migrations embeds the goose migrations of the on-device store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
