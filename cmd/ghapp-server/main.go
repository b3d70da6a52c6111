package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/chinmina/ghapp/internal/bootstrap"
	"github.com/chinmina/ghapp/internal/config"
	"github.com/chinmina/ghapp/internal/observe"
	"github.com/chinmina/ghapp/internal/server"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	if err := loadDevelopmentEnv(); err != nil {
		return err
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including tracing outgoing GitHub requests
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	app, err := bootstrap.NewApp(ctx, cfg, bootstrap.HTTPTransport(cfg))
	if err != nil {
		return fmt.Errorf("github app configuration failed: %w", err)
	}

	// the state store is closed before telemetry is flushed, so that its
	// final operations are exported
	hooks := &server.ShutdownHooks{}
	if oa, err := app.OAuth(); err == nil {
		hooks.AddClose("oauth-state-store", oa)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	handler, err := configureServerRoutes(app)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	err = server.Serve(ctx, cfg.Server, server.New(cfg.Server, handler), hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// loadDevelopmentEnv reads a local .env file when running in development.
// The file is optional.
func loadDevelopmentEnv() error {
	if os.Getenv("ENV") != "development" {
		return nil
	}

	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not load .env file: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}
