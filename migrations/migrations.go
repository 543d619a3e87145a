// Package migrations embeds the SQL schema for both supported databases.
package migrations

import "embed"

// SqliteMigrations holds migrations for the sqlite3 driver.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

// PostgresMigrations holds migrations for the postgres driver.
// File names match sqlite/ one to one.
//
//go:embed postgres/*.sql
var PostgresMigrations embed.FS
