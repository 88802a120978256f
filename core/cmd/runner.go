// Package cmd hosts the process run loop: config loading, bootstrap, signal
// handling, and ordered shutdown.
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/scwee/autogift/core/bootstrap"
	coreconfig "github.com/scwee/autogift/core/config"
	"github.com/scwee/autogift/core/funpay"
	"github.com/scwee/autogift/core/logger"
)

// Options describe how to load configuration and obtain the marketplace
// connector before the application starts.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	// Connector supplies the marketplace transport. Required.
	Connector funpay.Connector
}

// Run loads configuration, builds the application, and serves until SIGINT
// or SIGTERM. Shutdown order: stop polling, flush the document and ledger,
// then flush the logger.
func Run(opts Options) error {
	startedAt := time.Now()

	cfgPath, err := resolveConfigPath(opts)
	if err != nil {
		return err
	}
	log.Printf("loading config: %s", cfgPath)

	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}

	app, err := bootstrap.Build(cfg, opts.Connector)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go app.Engine.RunJanitor(ctx)

	logger.Info(ctx, "app", "ready",
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)

	runErr := app.Bot.Run(ctx)

	logger.Info(logger.Background(), "app", "shutdown")
	if err := app.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func resolveConfigPath(opts Options) (string, error) {
	envVar := opts.ConfigEnvVar
	if envVar == "" {
		envVar = "CONFIG_PATH"
	}
	for _, candidate := range []string{os.Getenv(envVar), opts.DefaultConfigPath} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", envVar)
}
