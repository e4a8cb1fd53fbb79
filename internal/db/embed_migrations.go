package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// The server runs them at every startup to ensure the schema is present;
// cmd/migrate uses the same runner.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
