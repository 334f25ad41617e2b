/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the housing allocation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags > environment > .env file > defaults)
  2. Initialize logger
  3. Open the store (SQLite, or the in-process store)
  4. Seed the identifier generator
  5. Build the allocation service, handler, and router
  6. Start the inventory refresher and the HTTP server

CONFIGURATION:
  See config/config.go for the full flag and environment table.
  -db=":memory-store:" runs without SQLite; data is lost on exit.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the inventory refresher
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/housing.db"

  # Run with in-memory SQLite and UUID identifiers
  ./server -db=":memory:" -ids=uuid

  # Run on different port with debug logs
  HTTP_PORT=3000 LOG_LEVEL=debug ./server

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/housing-engine/allocation"
	"github.com/warp/housing-engine/allocation/store"
	"github.com/warp/housing-engine/api"
	"github.com/warp/housing-engine/config"
	"github.com/warp/housing-engine/idgen"
	"github.com/warp/housing-engine/logging"
	"github.com/warp/housing-engine/metrics"
	"github.com/warp/housing-engine/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

type backend interface {
	api.Backend
	allocation.TxStore
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(os.Stdout, cfg.LogLevel, "housing")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
	log.Info("Server stopped")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	// Initialize store
	db, ids, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	clock := allocation.SystemClock{}

	svc := allocation.NewService(db,
		allocation.WithClock(clock),
		allocation.WithIDGenerator(ids),
		allocation.WithLogger(log),
		allocation.WithRecorder(m.Recorder()),
	)

	refresher := api.NewInventoryRefresher(db, m, log)
	if err := refresher.Start(cfg.InventoryRefreshSpec); err != nil {
		return err
	}
	defer refresher.Stop()

	handler := api.NewHandler(svc, db, clock, log)
	router := api.NewRouter(handler, m, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":  cfg.Port,
			"db":    cfg.DatabasePath,
			"ids":   cfg.IDStrategy,
			"level": cfg.LogLevel,
		}).Infof("Server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}

// openStore returns the configured store, an identifier generator that
// continues from any identifiers already stored, and a close function.
func openStore(ctx context.Context, cfg *config.Config) (backend, idgen.Generator, func(), error) {
	if cfg.DatabasePath == config.MemoryStore {
		var ids idgen.Generator = idgen.NewSequence(nil)
		if cfg.IDStrategy == config.IDUUID {
			ids = idgen.UUID{}
		}
		return store.NewMemory(), ids, func() {}, nil
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	closeFn := func() { db.Close() }

	if cfg.IDStrategy == config.IDUUID {
		return db, idgen.UUID{}, closeFn, nil
	}
	seeds, err := db.SequenceSeeds(ctx)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("seed identifiers: %w", err)
	}
	return db, idgen.NewSequence(seeds), closeFn, nil
}
