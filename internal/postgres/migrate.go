package postgres

import (
	"embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func Migrations() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{FileSystem: migrationFiles, Root: "migrations"}
}

// Migrate applies (or with migrate.Down, rolls back) the embedded migrations and returns how many ran.
func Migrate(pool *pgxpool.Pool, dir migrate.MigrationDirection) (int, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return migrate.Exec(db, "postgres", Migrations(), dir)
}
