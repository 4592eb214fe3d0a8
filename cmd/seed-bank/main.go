package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// seed-bank copies a YAML question bank into the simulator's PostgreSQL
// tables so the simulator can run with DATABASE_URL set.
func main() {
	cfg := config.Load()
	file := flag.String("file", cfg.QuestionBankFile, "YAML question bank to import")
	flag.Parse()

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := database.MigrateUp(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	tests, err := repository.NewYAMLBankRepository(*file).LoadTests(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read question bank")
	}

	fmt.Printf("=== Seeding %d tests from %s ===\n", len(tests), *file)

	if err := repository.NewPostgresBankRepository(pool).SaveTests(ctx, tests); err != nil {
		log.Fatal().Err(err).Msg("Failed to save question bank")
	}

	questions := 0
	for _, t := range tests {
		questions += len(t.Questions)
		fmt.Printf("  %s  %s (%d questions)\n", t.ID, t.Title, len(t.Questions))
	}
	fmt.Printf("\nSeed completed! %d tests, %d questions.\n", len(tests), questions)
}
