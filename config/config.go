// Package config loads the engine configuration from a YAML file and fills
// in usable defaults for anything left unset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soradb/soradb/pkg/logger"
	"github.com/soradb/soradb/pkg/telemetry"
)

// StorageConfig controls the on-disk layout and the buffer pool.
type StorageConfig struct {
	// DataFile is the path of the page file. The out-of-band log lives
	// next to it with a ".log" suffix.
	DataFile string `yaml:"data_file"`
	// PageSize is the page size in bytes.
	PageSize int `yaml:"page_size"`
	// PoolSize is the number of frames in the buffer pool.
	PoolSize int `yaml:"pool_size"`
	// LRUK is the k parameter of the LRU-K replacer.
	LRUK int `yaml:"lru_k"`
	// SingleThreaded elides pool and frame latching. Only safe when one
	// goroutine drives the engine.
	SingleThreaded bool `yaml:"single_threaded"`
}

// IndexConfig controls tree construction.
type IndexConfig struct {
	// Name labels the index in logs.
	Name string `yaml:"name"`
	// LeafMaxSize and InternalMaxSize cap node fan-out. Zero means derive
	// from the page size.
	LeafMaxSize     int `yaml:"leaf_max_size"`
	InternalMaxSize int `yaml:"internal_max_size"`
	// InheritFile reuses the root recorded in an existing file. When
	// false the index starts empty.
	InheritFile bool `yaml:"inherit_file"`
}

// Config is the root configuration document.
type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Index     IndexConfig      `yaml:"index"`
	Logging   logger.Config    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns a configuration suitable for local use.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataFile: "soradb.db",
			PageSize: 4096,
			PoolSize: 64,
			LRUK:     2,
		},
		Index: IndexConfig{
			Name:        "primary",
			InheritFile: true,
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "soradb",
			PrometheusPort: 9464,
		},
	}
}

// Load reads a YAML file over the defaults. A missing path yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Storage.PageSize < 512 {
		return fmt.Errorf("page_size %d below minimum 512", c.Storage.PageSize)
	}
	if c.Storage.PoolSize < 1 {
		return fmt.Errorf("pool_size %d must be positive", c.Storage.PoolSize)
	}
	if c.Storage.LRUK < 1 {
		return fmt.Errorf("lru_k %d must be positive", c.Storage.LRUK)
	}
	return nil
}
