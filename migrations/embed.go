// Package migrations embeds the SQL schema for the entity registry,
// entity state history, key/value store and audit log.
package migrations

import (
	"embed"

	"github.com/nerrad567/timerly-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
