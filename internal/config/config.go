// Package config loads myles settings from a JSON file and MYLES_*
// environment variables.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Backend  BackendConfig
	Progress ProgressConfig
	Storage  StorageConfig
	Download DownloadConfig
	Log      LogConfig
	Chat     ChatConfig
}

type BackendConfig struct {
	BaseURL     string
	FindTimeout time.Duration
	BulkTimeout time.Duration
}

// Progress modes.
const (
	ProgressHTTP = "http"
	ProgressNATS = "nats"
	ProgressNone = "none"
)

type ProgressConfig struct {
	Mode        string
	ListenAddr  string
	Token       string
	NATSURL     string
	NATSSubject string
}

type StorageConfig struct {
	DataDir string
}

type DownloadConfig struct {
	Dir string
}

type LogConfig struct {
	Level string
}

type ChatConfig struct {
	Loader         bool
	LoaderInterval time.Duration
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:     "http://localhost:5000",
			FindTimeout: 2 * time.Minute,
			BulkTimeout: 60 * time.Minute,
		},
		Progress: ProgressConfig{
			Mode:        ProgressHTTP,
			ListenAddr:  "127.0.0.1:5055",
			NATSURL:     "nats://127.0.0.1:4222",
			NATSSubject: "contactfinder.bulk.progress",
		},
		Storage:  StorageConfig{DataDir: defaultDataDir()},
		Download: DownloadConfig{Dir: "."},
		Log:      LogConfig{Level: "warn"},
		Chat: ChatConfig{
			Loader:         true,
			LoaderInterval: 80 * time.Millisecond,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/myles/config.json and applies MYLES_* environment
// overrides. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Progress.Mode {
	case ProgressHTTP, ProgressNATS, ProgressNone:
	default:
		return fmt.Errorf("invalid progress.mode %q (want http, nats or none)", c.Progress.Mode)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if c.Chat.LoaderInterval <= 0 {
		return fmt.Errorf("chat.loader_interval must be positive, got %s", c.Chat.LoaderInterval)
	}
	return nil
}

// Path returns the config file location.
func Path() string {
	return configFilePath()
}
