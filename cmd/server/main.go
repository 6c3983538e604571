/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the transfer ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env files and environment configuration
  2. Parse command-line flags (flags win over env)
  3. Initialize SQLite store
  4. Wire the transfer engine, OTP client, and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT env or 8080)
  -db      SQLite database path (default: DB_PATH env)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  PORT, DB_PATH, OTP_BASE_URL, JWT_SECRET, PRICE_TOLERANCE,
  INJECTION_REWARD_TIER, LOG_LEVEL. Local .env files are loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rythmn1111/coupon-collector/api"
	"github.com/rythmn1111/coupon-collector/config"
	"github.com/rythmn1111/coupon-collector/ledger"
	"github.com/rythmn1111/coupon-collector/otp"
	"github.com/rythmn1111/coupon-collector/store/sqlite"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	// Configuration: env first, flags override
	config.LoadEnv(log)
	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty; session tokens are not secure")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	// Wire the engine and its collaborators
	engine := ledger.NewEngine(store, ledger.Config{
		PriceTolerance:      cfg.PriceTolerance,
		InjectionRewardTier: cfg.InjectionRewardTier,
	})
	otpClient := otp.NewClient(cfg.OTPBaseURL)
	handler := api.NewHandler(store, engine, otpClient, cfg.JWTSecret, log)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port": *port,
			"db":   *dbPath,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	log.Info("Server stopped")
}
