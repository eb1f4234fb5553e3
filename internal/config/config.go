// Package config loads CLI configuration from a YAML file and the
// environment, with thread-safe singleton access.
package config

import (
	"log/slog"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds the settings the bitkv CLI needs to open a store.
type Config struct {
	DataDir   string `yaml:"DATA_DIR"`
	Threshold int64  `yaml:"THRESHOLD"`
	Fsync     bool   `yaml:"FSYNC"`
}

var (
	cfg     *Config
	once    sync.Once
	initErr error
)

// defaultPath is where Load looks for the YAML config file, relative to
// the CLI's working directory.
const defaultPath = "bitkv.yml"

// Load reads configuration from defaultPath and the environment. Missing
// .env or config files fall back to zero-value-safe defaults rather than
// failing, since the CLI is usable with just a -dir flag. Environment
// variables referenced in the YAML file are expanded via os.ExpandEnv.
// Load is idempotent: later calls return the first call's result.
func Load() (*Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("config: no .env file found", "error", err)
		}

		raw, err := os.ReadFile(defaultPath)
		if os.IsNotExist(err) {
			cfg = &Config{DataDir: "./data", Threshold: 1024}
			return
		}
		if err != nil {
			initErr = err
			return
		}

		var c Config
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &c); err != nil {
			initErr = err
			return
		}
		if c.Threshold == 0 {
			c.Threshold = 1024
		}
		cfg = &c
	})
	return cfg, initErr
}
