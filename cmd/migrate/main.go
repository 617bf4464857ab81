package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"DefiHub/internal/observability"
	"DefiHub/internal/persistence"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const usage = `migrate <up|down>

  up    apply all pending migrations
  down  roll back the most recent migration

environment:
  DEFIHUB_POSTGRES_DSN    Postgres connection string
  DEFIHUB_MIGRATIONS_DIR  migrations directory (default: migrations)
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(cmd string) error {
	_ = godotenv.Load()
	log := observability.NewLogger("migrate")

	dsn := os.Getenv("DEFIHUB_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/defihub?sslmode=disable"
	}
	dir := os.Getenv("DEFIHUB_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	m := persistence.NewMigrator(db, dir, log)

	switch cmd {
	case "up":
		if err := m.Up(ctx); err != nil {
			return err
		}
		log.Info().Msg("schema up to date")
	case "down":
		if err := m.Down(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q (want up or down)", cmd)
	}
	return nil
}
