package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/config"
	"github.com/kalambet/myles/internal/storage"
)

// newBackend builds the contact-finder client from config.
var newBackend = func(cfg config.Config) *backend.Client {
	return backend.New(cfg.Backend.BaseURL,
		backend.WithTimeouts(cfg.Backend.FindTimeout, cfg.Backend.BulkTimeout),
	)
}

func openStore(cfg config.Config) (*storage.Store, error) {
	return storage.Open(cfg.Storage.DataDir)
}

// signalContext is cancelled on any of sigs, SIGINT or SIGTERM when none
// are given.
func signalContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return signal.NotifyContext(parent, sigs...)
}
