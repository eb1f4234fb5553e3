// Command bitkv is the interactive command-line front end for the bitkv
// store engine. It is a thin shell: all durability and recovery logic
// lives in the root package.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/epokhe/bitkv"
	"github.com/epokhe/bitkv/internal/cli"
	"github.com/epokhe/bitkv/internal/config"
)

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	dirFlag := flag.String("dir", "", "data directory (overrides config DATA_DIR); use :memory for an in-memory store")
	flag.Parse()

	slog.Info("main: loading configuration")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("main: failed to load configuration", "error", err)
		log.Fatalf("failed to load config: %v", err)
	}

	dir := cfg.DataDir
	if *dirFlag != "" {
		dir = *dirFlag
	}
	if dir != bitkv.MemoryDir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create data dir %q: %v", dir, err)
		}
	}

	store := bitkv.New(bitkv.WithThreshold(cfg.Threshold), bitkv.WithFsync(cfg.Fsync))
	if err := store.Open(dir); err != nil {
		slog.Error("main: failed to open store", "dir", dir, "error", err)
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("main: error closing store", "error", err)
		}
	}()

	slog.Info("main: bitkv started", "dir", dir)

	if err := cli.NewHandler(store).Run(); err != nil {
		slog.Error("main: cli error", "error", err)
		log.Fatalf("cli error: %v", err)
	}
}
