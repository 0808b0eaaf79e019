// Package migrations embeds the schema for each supported store.
package migrations

import "embed"

// Postgres holds golang-migrate files for the Postgres store.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite holds the ordered schema files for the embedded store.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
