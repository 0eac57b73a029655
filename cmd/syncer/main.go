// Package main provides the nested-set synchronizer service.
//
// It loads a destination manifest, runs one periodic synchronize loop per
// destination against the configured PostgreSQL database, and exposes an
// HTTP admin interface for health checks, destination listing, offset
// inspection, and manual sync triggers.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nestedsync/nestedsync/internal/api"
	"github.com/nestedsync/nestedsync/internal/api/middleware"
	"github.com/nestedsync/nestedsync/internal/config"
	"github.com/nestedsync/nestedsync/internal/nestedset"
	"github.com/nestedsync/nestedsync/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "syncer"

	defaultSyncInterval = 5 * time.Second
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting nested-set synchronizer",
		slog.String("service", name),
		slog.String("version", version),
	)

	fleet, err := nestedset.LoadManifestFromEnv()
	if err != nil {
		logger.Error("failed to load destination manifest", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("loaded destination manifest",
		slog.String("load_id", fleet.LoadID()),
		slog.Int("destinations", fleet.Len()),
		slog.Any("names", fleet.Names()),
	)

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("database_url", dbConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Error("failed to close database connection", slog.String("error", cerr.Error()))
		}
	}()

	apiKeyStore, err := storage.NewPersistentKeyStore(conn)
	if err != nil {
		logger.Warn("persistent API key store unavailable - client authentication disabled",
			slog.String("error", err.Error()),
		)
	}

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	synchronizer := nestedset.NewSynchronizer(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, dest := range fleet.All() {
		wg.Add(1)
		go func(dest nestedset.Destination) {
			defer wg.Done()
			runSyncLoop(ctx, logger, synchronizer, dest)
		}(dest)
	}

	var serverOpt storage.APIKeyStore
	if apiKeyStore != nil {
		serverOpt = apiKeyStore
	}

	server := api.NewServer(&serverConfig, serverOpt, rateLimiter, fleet, conn, synchronizer)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		cancel()
		wg.Wait()
		os.Exit(1)
	}

	cancel()
	wg.Wait()

	logger.Info("nested-set synchronizer stopped")
}

// runSyncLoop periodically synchronizes a single destination until ctx is cancelled.
func runSyncLoop(ctx context.Context, logger *slog.Logger, synchronizer *nestedset.Synchronizer, dest nestedset.Destination) {
	interval := config.GetEnvDuration("NESTEDSYNC_SYNC_INTERVAL", defaultSyncInterval)

	logger.Info("starting sync loop", slog.String("destination", dest.Name), slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping sync loop", slog.String("destination", dest.Name))
			return
		case <-ticker.C:
			report, err := synchronizer.Synchronize(ctx, dest)
			if err != nil {
				logger.Error("synchronize cycle failed",
					slog.String("destination", dest.Name),
					slog.String("error", err.Error()),
				)
				continue
			}

			if !report.Synced {
				logger.Warn("synchronize cycle did not apply",
					slog.String("destination", dest.Name),
					slog.String("reason", report.Reason),
				)
				continue
			}

			if report.Inserted > 0 || report.Updated > 0 || report.Deleted > 0 {
				logger.Info("synchronize cycle applied",
					slog.String("destination", dest.Name),
					slog.Int64("previous_offset", report.PreviousOffset),
					slog.Int64("new_offset", report.NewOffset),
					slog.Int("inserted", report.Inserted),
					slog.Int("updated", report.Updated),
					slog.Int("deleted", report.Deleted),
				)
			}
		}
	}
}
