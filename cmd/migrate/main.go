package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/chasehq/followup/internal/config"
	"github.com/chasehq/followup/internal/store"
)

// Applies the sqlite schema and exits. Useful for provisioning a fresh
// data directory before the server's first start.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	path := os.Getenv("DB_PATH")
	if path == "" {
		cfg, err := config.LoadFromEnv(configPath)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", configPath, err)
		}
		path = cfg.Database.Path
	}

	st, err := store.Open(path)
	if err != nil {
		log.Fatalf("Failed to open database at %s: %v", path, err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Init(ctx); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	log.Printf("Schema applied at %s", path)
}
