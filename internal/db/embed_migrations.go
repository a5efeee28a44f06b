package db

import "embed"

// MigrationFS embeds the schema for users, refresh_tokens and blacklisted_access_tokens.
// Applied by internal/db/migrate (cmd/migrate and the integration tests).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
