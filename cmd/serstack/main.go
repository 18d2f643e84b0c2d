package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"serstack/internal/cli"
	"serstack/internal/config"
	"serstack/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("SERSTACK_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return cli.NewRootCmd(cfg, log).ExecuteContext(ctx)
}
