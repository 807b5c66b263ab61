// Package migrations embeds the SQL migration files applied by
// golang-migrate at startup when MENULINK_DB_RUN_MIGRATIONS is set.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Version is the latest migration version in this directory.
const Version = 1
