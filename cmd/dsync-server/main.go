// dsync-server runs the dsync dev sync server: the five sync RPCs over an
// in-memory store. State is lost on exit; it exists for local development
// and integration testing, not production use.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/dsync/internal/api"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	maxRecords := flag.Int("max-records", 0, "max records per dataset (0 = unlimited)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	store := api.NewMemStore()
	store.MaxRecordsPerDataset = *maxRecords

	server := api.NewServer(*addr, store)
	if err := server.Start(); err != nil {
		slog.Error("start server", "err", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}
