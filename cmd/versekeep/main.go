package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/versekeep/versekeep/internal/config"
	"github.com/versekeep/versekeep/internal/event"
	"github.com/versekeep/versekeep/internal/library"
	"github.com/versekeep/versekeep/internal/remote"
	"github.com/versekeep/versekeep/internal/store"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("versekeep %s\n", Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := config.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = config.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting versekeep", "version", Version)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	remoteClient := remote.NewClient(cfg.Remote.URL, cfg.Remote.Token, logger)
	blobClient := remote.NewBlobClient(cfg.Remote.URL, cfg.Remote.Token, cfg.Downloads.Dir, logger)
	bus := event.NewBus()

	svc := library.NewService(st, remoteClient, blobClient, bus, library.Options{
		SyncInterval:    cfg.Sync.Interval,
		NetworkTimeout:  cfg.Sync.Timeout,
		StatsFreshness:  cfg.Statistics.Freshness,
		CloudPushOnSave: cfg.Sync.PushOnWrite,
	}, logger)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sync.Enabled && cfg.Remote.URL != "" {
		if err := svc.StartSync(ctx); err != nil {
			return fmt.Errorf("failed to start sync: %w", err)
		}
	}

	// Log the event stream so the engine's activity is observable while it
	// serves embedding callers.
	events, cancel := svc.Events()
	defer cancel()
	go func() {
		for ev := range events {
			logger.Debug("event", "type", ev.Type, "itemID", ev.ItemID, "collectionID", ev.CollectionID)
		}
	}()

	logger.Info("library engine ready", "store", cfg.Store.Path)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
