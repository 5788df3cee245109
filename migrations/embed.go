// Package migrations embeds the garden schema so the binary can migrate
// its SQLite store without SQL files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
