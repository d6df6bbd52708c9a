/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (file, .env, LOYALTY_* env)
  2. Build the logger
  3. Initialize SQLite store
  4. Load seed data into an empty database (optional)
  5. Create ledger engine, API handler and throttle
  6. Start the balance auditor (optional)
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: ./config.yaml when present)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database
  -seed    YAML seed file, overrides seed.path

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the auditor and throttle sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with a seeded in-memory database
  LOYALTY_AUTH_JWT_SECRET=dev ./server -db=":memory:" -seed=./seed.yaml

  # Run on different port with the Redis throttle
  LOYALTY_THROTTLE_BACKEND=redis ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration sources and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/store/sqlite"
	"github.com/warp/loyalty-engine/throttle"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seedPath := flag.String("seed", "", "YAML seed file (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *seedPath != "" {
		cfg.Seed.Path = *seedPath
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}

	log, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logCloser.Close()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is required (set LOYALTY_AUTH_JWT_SECRET)")
	}

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Seed.Path != "" {
		seed, err := factory.LoadSeedFile(cfg.Seed.Path)
		if err != nil {
			log.Fatalf("Failed to read seed: %v", err)
		}
		if _, err := api.LoadSeed(ctx, store, seed, log); err != nil {
			log.Fatalf("Failed to load seed: %v", err)
		}
	}

	ledgerCfg, err := cfg.LedgerConfig()
	if err != nil {
		log.Fatalf("Invalid ledger config: %v", err)
	}
	engine := ledger.NewEngine(store, ledgerCfg, ledger.WithLogger(log))

	// Initialize handler
	handler := api.NewHandler(engine, log)

	limiter, err := newThrottle(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize throttle: %v", err)
	}

	auditor := api.NewBalanceAuditor(engine, log)
	auditor.Enabled = cfg.Audit.Enabled
	auditor.Interval = cfg.Audit.Interval
	auditor.Start()
	defer auditor.Stop()

	// Create router
	router := api.NewRouter(handler, api.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		Throttle:  limiter,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Server starting on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}

// newThrottle builds the configured write throttle. Nil means disabled.
func newThrottle(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (throttle.Throttle, error) {
	if !cfg.Throttle.Enabled {
		return nil, nil
	}
	switch cfg.Throttle.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		// Fixed window sized so a full burst refills at the configured rate.
		window := time.Duration(float64(cfg.Throttle.Burst) / cfg.Throttle.RPS * float64(time.Second))
		log.WithField("addr", cfg.Redis.Addr).Info("using redis throttle")
		return throttle.NewRedis(client, int64(cfg.Throttle.Burst), window), nil
	default:
		mem := throttle.NewMemory(cfg.Throttle.RPS, cfg.Throttle.Burst, cfg.Throttle.TTL)
		go mem.Run(ctx, time.Minute)
		return mem, nil
	}
}
