// Command echod is a TCP (and optional WebSocket) echo server whose
// connections are served by a fixed-size worker pool.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxorio/echod/pkg/core"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file (default $CONFIG_PATH)")
	dumpPath := flag.String("dump-config", "", "write the effective configuration to this .yaml or .json file and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		core.NewDefaultLogger().Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	if *dumpPath != "" {
		if err := dumpConfig(*dumpPath, cfg); err != nil {
			logger.Errorf("Failed to write configuration: %v", err)
			os.Exit(1)
		}
		logger.Infof("Configuration written to %s", *dumpPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("Failed to set up echod: %v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("echod stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Application stopped")
}
