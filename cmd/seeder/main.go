package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/primoloyalty/broadcast-service/internal/config"
	"github.com/primoloyalty/broadcast-service/internal/db"
)

// Applies the schema and seed data in order. Every file is idempotent, so
// rerunning the seeder against a populated database is safe.
func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "seeder").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	seedFiles := []string{
		"seed/schema.sql",
		"seed/segments.sql",
		"seed/users.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := conn.Exec(string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
		}
		log.Info().Str("file", file).Msg("seeded")
	}

	log.Info().Msg("database seeding completed")
}
