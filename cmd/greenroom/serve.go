package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/logger"
	"github.com/greenroom-ai/greenroom/pkg/runtime"
)

// ServeCmd starts the orchestration server.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the config file and apply log level changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx := context.Background()

	loader, err := config.NewLoader(cli.Config, config.WithOnChange(func(next *config.Config) {
		// Reload applies the log level only; components keep running
		// on the configuration they started with.
		if !levelOverridden(cli) {
			logger.SetLevel(logger.ParseLevel(next.Logger.Level))
			slog.Info("log level applied from reloaded config", "level", next.Logger.Level)
		}
	}))
	if err != nil {
		return err
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if cli.Config != "" {
		slog.Info("loaded configuration", "path", cli.Config)
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if !levelOverridden(cli) {
		logger.SetLevel(logger.ParseLevel(cfg.Logger.Level))
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	if c.Watch && cli.Config != "" {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		go func() {
			if err := loader.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
				slog.Error("config watch failed", "error", err)
			}
		}()
	}

	fmt.Println("greenroom ready")
	fmt.Printf("  Websocket:  ws://%s/ws\n", cfg.Server.Address())
	fmt.Printf("  Health:     http://%s/healthz\n", cfg.Server.Address())
	if config.BoolValue(cfg.Observability.MetricsEnabled, true) {
		fmt.Printf("  Metrics:    http://%s/metrics\n", cfg.Server.Address())
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return rt.Run(ctx)
}
