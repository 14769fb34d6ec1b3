// Command officesim serves the simulated office backend on its own, without
// the bmoffice CLI.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iambrandonn/bmoffice/internal/config"
	"github.com/iambrandonn/bmoffice/internal/officesim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3000", "Listen address")
	dbPath := flag.String("db", "", "SQLite file for the event log (default: in memory)")
	scenario := flag.String("scenario", "", "YAML scenario to play back")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// stdout stays free for whoever wraps us
	logger, err := config.NewLogger(os.Stderr, *logLevel)
	if err != nil {
		slog.Error("invalid log level", "level", *logLevel, "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("office simulator starting", "addr", *addr, "pid", os.Getpid())
	if err := officesim.Run(ctx, officesim.RunOptions{
		Addr:     *addr,
		DBPath:   *dbPath,
		Scenario: *scenario,
		Logger:   logger,
	}); err != nil {
		logger.Error("office simulator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("office simulator stopped")
}
