// ghapp-inventory prints the installations of a GitHub App and the
// repositories each can access, as YAML.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chinmina/ghapp/internal/bootstrap"
	"github.com/chinmina/ghapp/internal/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// logs go to stderr, leaving stdout for the inventory
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(zerolog.InfoLevel)
	zerolog.DefaultContextLogger = &log.Logger

	if err := run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("inventory failed")
	}
}

func run(ctx context.Context) error {
	if os.Getenv("ENV") == "development" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("could not load .env file: %w", err)
		}
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	app, err := bootstrap.NewApp(ctx, cfg, bootstrap.HTTPTransport(cfg))
	if err != nil {
		return fmt.Errorf("github app configuration failed: %w", err)
	}

	inv, err := collect(ctx, app, cfg.Inventory.InstallationID)
	if err != nil {
		return err
	}

	return write(os.Stdout, inv)
}
