package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/phillip-england/badgephoto/internal/clientapp"
	"github.com/phillip-england/badgephoto/internal/envutil"
	"github.com/phillip-england/badgephoto/internal/logging"
)

func main() {
	logger := logging.FromEnv()
	if err := envutil.LoadDotEnv(".env"); err != nil {
		logger.WithError(err).Fatal("load .env")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := clientapp.DefaultConfigFromEnv()
	cfg.Logger = logger
	if err := clientapp.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("client exited")
	}
}
