// Command sf-sandbox runs a local document-signing platform for development and tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/config"
	"github.com/and161185/signflow/internal/logging"
	"github.com/and161185/signflow/internal/sandbox"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration and serves the sandbox until SIGINT or SIGTERM.
func main() {
	cfg, err := config.LoadSandbox(flag.NewFlagSet("sf-sandbox", flag.ExitOnError), os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	srv, err := sandbox.New(sandbox.Config{
		Addr:         cfg.Addr,
		SigningKey:   []byte(cfg.SigningKey),
		TokenTTL:     cfg.TokenTTL,
		Mailboxes:    cfg.Mailboxes,
		DevTokens:    cfg.DevTokens,
		AuthMaxFails: cfg.AuthMaxFails,
		AuthWindow:   cfg.AuthWindow,
		AuthBlockFor: cfg.AuthBlockFor,
	}, logger)
	if err != nil {
		logger.Fatal("sandbox", zap.Error(err))
	}

	if cfg.DevTokens {
		tok, err := srv.IssueToken("dev")
		if err != nil {
			logger.Fatal("issue dev token", zap.Error(err))
		}
		logger.Info("dev token issued", zap.String("token", tok))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
