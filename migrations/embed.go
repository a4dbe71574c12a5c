// Package migrations embeds SQL migration files into the binary.
//
// The gateway runs its migrations at startup without needing the SQL files
// present on disk. Pass FS to database.DB.Migrate.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
