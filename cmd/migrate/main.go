package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"PairLedger/internal/observability"
	"PairLedger/internal/persistence"
	"PairLedger/migrations"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate [-dir path] <up|down|status>")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  status - list migrations and whether they are applied")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  PAIR_POSTGRES_DSN - Postgres connection string")
	fmt.Println()
	fmt.Println("Without -dir the migrations embedded in the binary are used.")
}

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	log := observability.NewLogger("migrate")

	pgURL := os.Getenv("PAIR_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/pairledger?sslmode=disable"
	}

	var src fs.FS = migrations.FS
	if *dir != "" {
		src = os.DirFS(*dir)
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, src, log)

	switch flag.Arg(0) {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		log.Info().Msg("last migration rolled back")

	case "status":
		status, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate status")
		}
		for _, s := range status {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %-8s %s\n", s.Version, state, s.Filename)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use up, down or status)\n", flag.Arg(0))
		os.Exit(1)
	}
}
