// Package migrations embeds the SQL schema of the history store.
package migrations

import (
	"context"
	"embed"

	"github.com/correomqtt/correo-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Migrator returns a migrator over the embedded files.
func Migrator() *database.Migrator {
	return database.NewMigrator(files, ".")
}

// Apply brings db up to the latest schema.
func Apply(ctx context.Context, db *database.DB) error {
	return Migrator().Up(ctx, db)
}
