package main

// Run database migrations for the configured driver:
//   go run ./cmd/migrate

import (
	"context"
	"log"
	"os"

	"label-decoder/internal/shared/config"
	"label-decoder/internal/shared/storage/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(1)
	}
	ctx := context.Background()

	var dsn string
	switch cfg.DBDriver {
	case db.DriverPostgres:
		dsn = cfg.DatabaseURL
	case db.DriverSQLite:
		dsn = cfg.SQLitePath
	default:
		log.Printf("DB_DRIVER=%s has no migrations", cfg.DBDriver)
		return
	}

	opts := db.OptionsFromEnv(db.DefaultCLIOptions())
	sqlDB, err := db.Connect(ctx, cfg.DBDriver, dsn, opts)
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(ctx, cfg.DBDriver, sqlDB); err != nil {
		log.Printf("failed to run migrations: %v", err)
		os.Exit(1)
	}
	log.Printf("migrations applied (%s)", cfg.DBDriver)
}
