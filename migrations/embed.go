// Package migrations embeds the cell schema migrations into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations for database.Migrate.
func Source() database.MigrationSource {
	return database.MigrationSource{FS: files, Dir: "."}
}
