/*
main.go - HTTP server entry point

PURPOSE:
  Starts the Le Grand Cèdre billing API. Handles configuration, dependency
  injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment (config.Load)
  2. Parse command-line flags, which override the environment
  3. Open the SQLite store and build the engine (app.New)
  4. Start the optional billing scheduler
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: GRANDCEDRE_PORT or 8080)
  -db        SQLite database path (default: GRANDCEDRE_DB or data/data.db)
             Use ":memory:" for an in-memory database
  -schedule  Run the monthly billing batch at this interval (e.g. 1h)
  -upload    Upload invoices issued by the scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database
  4. Exit

EXAMPLES:
  ./server -db="./data/data.db"
  ./server -db=":memory:" -port=3000
  ./server -schedule=1h -upload

SEE ALSO:
  - app/app.go: Wiring and Serve
  - api/server.go: Router configuration
  - cmd/grandcedre: Operator CLI
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grandcedre/billing/app"
	"github.com/grandcedre/billing/config"
	"github.com/grandcedre/billing/logging"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	schedule := flag.Duration("schedule", 0, "billing batch interval, 0 disables the scheduler")
	upload := flag.Bool("upload", false, "upload invoices issued by the scheduler")
	flag.Parse()

	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	log.Info("database ready", zap.String("path", cfg.DBPath))
	if err := a.Serve(app.ServeOptions{Schedule: *schedule, Upload: *upload}); err != nil {
		log.Error("server exited", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
}
