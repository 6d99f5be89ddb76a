package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"postbox/pkg/server"
	"postbox/pkg/store"
)

func main() {
	configPath := flag.String("config", "~/.postbox/config.toml", "Path to config file")
	dbPath := flag.String("db", "", "Database path (overrides config)")
	port := flag.Int("port", 0, "TCP port (overrides config)")
	backend := flag.String("backend", "", "Storage backend: sqlite or memory (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		server.EnableDebugLogging()
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}
	if *port != 0 {
		config.Server.Port = *port
	}
	if *backend != "" {
		config.Server.Backend = *backend
	}

	st, err := openStore(config)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	srv := server.NewServer(st, config)
	if err := srv.Start(); err != nil {
		st.Close()
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}

func openStore(config server.TOMLConfig) (store.Store, error) {
	switch config.Server.Backend {
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		path, err := expandHome(config.Server.DatabasePath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return store.Open(path)
	default:
		return nil, fmt.Errorf("unknown backend %q (want sqlite or memory)", config.Server.Backend)
	}
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
