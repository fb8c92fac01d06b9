package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kBool
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kBool:
		return "bool"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "MYLES_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.find_timeout", typ: kDuration, env: "MYLES_BACKEND_FIND_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.FindTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.FindTimeout },
	},
	{
		key: "backend.bulk_timeout", typ: kDuration, env: "MYLES_BACKEND_BULK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.BulkTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.BulkTimeout },
	},
	{
		key: "progress.mode", typ: kString, env: "MYLES_PROGRESS_MODE",
		apply:   func(cfg *Config, v any) { cfg.Progress.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Progress.Mode },
	},
	{
		key: "progress.listen_addr", typ: kString, env: "MYLES_PROGRESS_LISTEN_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Progress.ListenAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Progress.ListenAddr },
	},
	{
		key: "progress.token", typ: kString, env: "MYLES_PROGRESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Progress.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Progress.Token },
	},
	{
		key: "progress.nats_url", typ: kString, env: "MYLES_PROGRESS_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.Progress.NATSURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Progress.NATSURL },
	},
	{
		key: "progress.nats_subject", typ: kString, env: "MYLES_PROGRESS_NATS_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.Progress.NATSSubject = v.(string) },
		extract: func(cfg Config) any { return cfg.Progress.NATSSubject },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MYLES_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "download.dir", typ: kString, env: "MYLES_DOWNLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Download.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Download.Dir },
	},
	{
		key: "log.level", typ: kString, env: "MYLES_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "chat.loader", typ: kBool, env: "MYLES_CHAT_LOADER",
		apply:   func(cfg *Config, v any) { cfg.Chat.Loader = v.(bool) },
		extract: func(cfg Config) any { return cfg.Chat.Loader },
	},
	{
		key: "chat.loader_interval", typ: kDuration, env: "MYLES_CHAT_LOADER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Chat.LoaderInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.LoaderInterval },
	},
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			return fmt.Errorf("invalid %s value for %s: %w", s.typ, s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring env override", "var", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
