package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"roomsync/config"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyConfigPath
	contextKeyDataDir
	contextKeyLogger
)

func getConfig(ctx *cli.Context) *config.ClientConfig {
	return ctx.Context.Value(contextKeyConfig).(*config.ClientConfig)
}

func getConfigPath(ctx *cli.Context) string {
	return ctx.Context.Value(contextKeyConfigPath).(string)
}

func getDataDir(ctx *cli.Context) string {
	return ctx.Context.Value(contextKeyDataDir).(string)
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(zerolog.Logger)
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(parsed).
		With().
		Timestamp().
		Logger(), nil
}

func prepareApp(ctx *cli.Context) error {
	logger, err := newLogger(ctx.String("log-level"))
	if err != nil {
		return err
	}

	if dataDir := ctx.String("data-dir"); dataDir != "" {
		if err := os.Setenv(config.DataDirEnv, dataDir); err != nil {
			return fmt.Errorf("set data dir: %w", err)
		}
	}
	cfg, cfgPath, dataDir, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyConfigPath, cfgPath)
	newCtx = context.WithValue(newCtx, contextKeyDataDir, dataDir)
	newCtx = context.WithValue(newCtx, contextKeyLogger, logger)
	ctx.Context = newCtx
	return nil
}

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "roomsync",
		Usage:   "Sync encrypted chat rooms with a message relay",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"ROOMSYNC_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Override the data directory",
				EnvVars: []string{config.DataDirEnv},
			},
		},
		Before: prepareApp,
		Commands: []*cli.Command{
			runCommand,
			sendCommand,
			historyCommand,
			relayCommand,
			walletCommand,
			roomCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
