// Package migrations embeds the SQL schema for the history store.
package migrations

import "embed"

// FS holds the migration files at its root, ready for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
