package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ttlkv/internal/backend/postgres"
	"ttlkv/internal/config"
)

var (
	flags   = flag.NewFlagSet("migrate", flag.ExitOnError)
	timeout = flags.Duration("timeout", 2*time.Minute, "deadline for the whole command")
)

func main() {
	_ = flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate [-timeout 2m] COMMAND\n\nCommands:\n  up\n  down\n  status")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.PostgresDSN == "" {
		log.Fatal("TTLKV_POSTGRES_DSN is not set")
	}

	db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	command := args[0]
	if err := postgres.Migrate(ctx, db, command); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
	log.Printf("Migration %s finished", command)
}
