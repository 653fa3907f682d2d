package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"tmengine/internal/tmstore"
)

// Store types accepted in the stores file.
const (
	StoreTypeMemory = "memory"
	StoreTypeFS     = "fs"
	StoreTypeHTTP   = "http"
	StoreTypeQdrant = "qdrant"
)

// Config holds all configuration for the application.
type Config struct {
	DBPath      string
	APIPort     string
	LogLevel    string
	LogFormat   string
	Parallelism int
	Regression  bool
	StoresFile  string
	Stores      []StoreConfig
}

// StoreConfig describes one TM store in the stores file:
//
//	[[store]]
//	id = "shared"
//	type = "fs"
//	access = "readwrite"
//	partitioning = "job"
//	path = "./data/stores/shared"
//	serve = true
//
// Served stores are exposed over HTTP for other engines to sync against.
type StoreConfig struct {
	ID           string `toml:"id"`
	Type         string `toml:"type"`
	Access       string `toml:"access"`
	Partitioning string `toml:"partitioning"`
	Path         string `toml:"path"`
	Codec        string `toml:"codec"`
	URL          string `toml:"url"`
	Collection   string `toml:"collection"`
	Serve        bool   `toml:"serve"`
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates them.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	// Check current directory first, then walk up to find project root
	_ = godotenv.Load() // Try current directory

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ { // Limit search depth
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break // Reached filesystem root
			}
			dir = parent
		}
	}

	cfg := &Config{
		DBPath:     getEnv("DB_PATH", "./data/tm.db"),
		APIPort:    getEnv("API_PORT", "9000"),
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:  strings.ToLower(getEnv("LOG_FORMAT", "text")),
		StoresFile: getEnv("TM_STORES_FILE", "./tmstores.toml"),
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be text or json")
	}

	parallelism, err := strconv.Atoi(getEnv("TM_PARALLELISM", "4"))
	if err != nil {
		return nil, fmt.Errorf("TM_PARALLELISM must be a valid integer: %w", err)
	}
	if parallelism <= 0 {
		return nil, fmt.Errorf("TM_PARALLELISM must be greater than 0")
	}
	cfg.Parallelism = parallelism

	if cfg.Regression, err = strconv.ParseBool(getEnv("TM_REGRESSION", "false")); err != nil {
		return nil, fmt.Errorf("TM_REGRESSION must be a boolean: %w", err)
	}

	stores, err := LoadStores(cfg.StoresFile)
	if errors.Is(err, os.ErrNotExist) && os.Getenv("TM_STORES_FILE") == "" {
		// The default stores file is optional.
		stores, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Stores = stores

	// Create ./data directory if it doesn't exist
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// LoadStores reads and validates the TOML stores file at path.
func LoadStores(path string) ([]StoreConfig, error) {
	var file struct {
		Stores []StoreConfig `toml:"store"`
	}
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to read stores file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("stores file %s: unknown keys %v", path, undecoded)
	}

	seen := make(map[string]bool, len(file.Stores))
	for i := range file.Stores {
		s := &file.Stores[i]
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("stores file %s: store %d: %w", path, i+1, err)
		}
		key := strings.ToLower(s.ID)
		if seen[key] {
			return nil, fmt.Errorf("stores file %s: duplicate store id %q", path, s.ID)
		}
		seen[key] = true
	}
	return file.Stores, nil
}

func (s *StoreConfig) validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := tmstore.ParseAccess(s.Access); err != nil {
		return fmt.Errorf("%s: %w", s.ID, err)
	}
	if _, err := tmstore.ParsePartitioning(s.Partitioning); err != nil {
		return fmt.Errorf("%s: %w", s.ID, err)
	}
	switch s.Type {
	case StoreTypeMemory:
	case StoreTypeFS:
		if s.Path == "" {
			return fmt.Errorf("%s: path is required for fs stores", s.ID)
		}
	case StoreTypeHTTP:
		if s.URL == "" {
			return fmt.Errorf("%s: url is required for http stores", s.ID)
		}
		if s.Serve {
			return fmt.Errorf("%s: http stores cannot be served", s.ID)
		}
	case StoreTypeQdrant:
		if s.URL == "" {
			return fmt.Errorf("%s: url is required for qdrant stores", s.ID)
		}
		if s.Collection == "" {
			s.Collection = "tm_blocks"
		}
	default:
		return fmt.Errorf("%s: unknown store type %q", s.ID, s.Type)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
