// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"typed_kv_store/internal/kvstore"
)

type Config struct {
	Backend        string   `yaml:"backend"         env:"TYPEDKV_BACKEND"`
	Path           string   `yaml:"path"            env:"TYPEDKV_PATH"`
	Shards         int      `yaml:"shards"          env:"TYPEDKV_SHARDS"`
	HubURL         string   `yaml:"hub_url"         env:"TYPEDKV_HUB_URL"`
	ListenAddr     string   `yaml:"listen_addr"     env:"TYPEDKV_LISTEN_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"TYPEDKV_ALLOWED_ORIGINS" envSeparator:","`
	Verbose        bool     `yaml:"verbose"         env:"TYPEDKV_VERBOSE"`
}

func Default() Config {
	return Config{
		Backend:    kvstore.BackendLevelDB,
		Path:       "typedkv-data",
		Shards:     4,
		ListenAddr: ":8000",
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// ParseEnv overrides target with the environment variables that are set.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case kvstore.BackendMemory:
	case kvstore.BackendLevelDB, kvstore.BackendSQLite, kvstore.BackendDir:
		if c.Path == "" {
			errs = append(errs, fmt.Errorf("backend %s requires a path", c.Backend))
		}
	case kvstore.BackendShardedLevelDB:
		if c.Path == "" {
			errs = append(errs, fmt.Errorf("backend %s requires a path", c.Backend))
		}
		if c.Shards < 1 {
			errs = append(errs, fmt.Errorf("shards must be at least 1, got %d", c.Shards))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.HubURL != "" && !strings.HasPrefix(c.HubURL, "ws://") && !strings.HasPrefix(c.HubURL, "wss://") {
		errs = append(errs, fmt.Errorf("hub url %q must use ws:// or wss://", c.HubURL))
	}
	return errors.Join(errs...)
}

// StoreOptions converts c into the options kvstore.Open expects.
func (c Config) StoreOptions() kvstore.Options {
	return kvstore.Options{
		Backend: c.Backend,
		Path:    c.Path,
		Shards:  c.Shards,
	}
}
