/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the housing ledger service. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize structured logger
  3. Initialize SQLite store
  4. Wire the accrual poster, correction service and auditor
  5. Configure HTTP router and start the scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  Flags override environment variables:
    -port / PORT          HTTP server port (default: 8080)
    -db   / DATABASE_PATH SQLite database path (default: housing.db)
                          Use ":memory:" for an in-memory database
    -dev  /               Human-readable logging
  The scheduler is disabled with SCHEDULER_ENABLED=false.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/domus/housing-ledger/accrual"
	"github.com/domus/housing-ledger/api"
	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/logger"
	"github.com/domus/housing-ledger/store/sqlite"
)

func main() {
	// .env is optional; flags and real environment win.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "housing.db"), "SQLite database path")
	dev := flag.Bool("dev", false, "human-readable logging")
	flag.Parse()

	log := logger.New("housing-ledger")
	if *dev {
		log = logger.NewDevelopment("housing-ledger")
	}
	defer log.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	stores := store.Bundle()

	poster := &accrual.Poster{
		Entries:   stores.Entries,
		Tenancies: stores.Tenancies,
		Debtors:   stores.Debtors,
		Audit:     stores.Audit,
		Log:       log,
	}
	svc := correction.NewService(stores, store, store.Rooms(), log)
	auditor := &correction.Auditor{
		Entries:   stores.Entries,
		Tenancies: stores.Tenancies,
		Debtors:   stores.Debtors,
		Log:       log,
	}

	handler := api.NewHandler(svc, auditor, poster, stores)
	router := api.NewRouter(handler)

	scheduler := api.NewScheduler(poster, auditor, log)
	scheduler.Enabled = envStr("SCHEDULER_ENABLED", "true") != "false"
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.Int("port", *port), zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
