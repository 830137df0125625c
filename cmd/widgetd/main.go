// Package main wires together the widget service binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/app"
	"github.com/JakeFAU/widget-forge/internal/config"
	"github.com/JakeFAU/widget-forge/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "widgetd: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to a YAML config file",
			Sources: cli.EnvVars("WIDGET_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "path to a .env file, ignored when missing",
			Value: ".env",
		},
	}
	return &cli.Command{
		Name:   "widgetd",
		Usage:  "generate embeddable HTML widgets from live web sources",
		Flags:  flags,
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the worker pool",
				Flags:  flags,
				Action: serveAction,
			},
			{
				Name:   "check-config",
				Usage:  "load and validate the configuration, then exit",
				Flags:  flags,
				Action: checkConfigAction,
			},
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init application failed", zap.Error(err))
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

func checkConfigAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "config ok: storage=%s archive=%s workers=%d headless=%t\n",
		cfg.Storage.Backend, cfg.Archive.Backend, cfg.Worker.Count, cfg.Headless.Enabled)
	return nil
}
