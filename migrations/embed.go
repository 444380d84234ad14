// Package migrations embeds the schema migrations for the local durable store
// (SQLite) and the remote cloud store (Postgres).
package migrations

import "embed"

// FS holds local/*.sql and remote/*.sql
//
//go:embed local/*.sql remote/*.sql
var FS embed.FS

const (
	// LocalDir is the directory inside FS with SQLite migrations
	LocalDir = "local"
	// RemoteDir is the directory inside FS with Postgres migrations
	RemoteDir = "remote"
)
