package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/config"
	"github.com/Sh00ty/hoststated/internal/logger"
	"github.com/Sh00ty/hoststated/internal/pftable/postgres"
)

// migration prepares the database used by PF_BACKEND=postgres.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	logger.Setup(logger.Options{Level: cfg.LoggerLevel, Foreground: true, Proc: "migration"})

	committer, err := postgres.New(
		ctx,
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseName,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init database")
	}
	defer committer.Close()

	if err := committer.Migrate(ctx); err != nil {
		_ = committer.Close()
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msgf("database %s is ready", cfg.DatabaseName)
}
