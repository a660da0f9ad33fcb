// Command migrate applies or rolls back the historian's Postgres schema.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/jrsynow/dune/internal/historian/migrations"
)

func parseFlags() (dbURL string, rollback bool) {
	db := flag.String("db", "", "Postgres connection string (defaults to VANGUARD_POSTGRES_DSN)")
	rb := flag.Bool("rollback", false, "Roll back the most recently applied migration")
	flag.Parse()

	dsn := *db
	if dsn == "" {
		dsn = os.Getenv("VANGUARD_POSTGRES_DSN")
	}
	return dsn, *rb
}

func main() {
	dsn, rollback := parseFlags()
	if dsn == "" {
		log.Fatal("migrate: no database URL given; pass -db or set VANGUARD_POSTGRES_DSN")
	}

	if err := run(dsn, rollback); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func run(dsn string, rollback bool) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return runMigration(db, rollback)
}

// runMigration holds the logic that doesn't need a live sql.Open, so it
// can be driven directly against a sqlmock database in tests.
func runMigration(db *sql.DB, rollback bool) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)

	if rollback {
		if err := migrator.Rollback(migrations.All()); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	}

	if err := migrator.Migrate(migrations.All()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
