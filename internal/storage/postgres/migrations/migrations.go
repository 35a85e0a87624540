package migrations

import "github.com/uptrace/bun/migrate"

// DbMigrations - registry of data migrations applied on start
var DbMigrations = migrate.NewMigrations()
