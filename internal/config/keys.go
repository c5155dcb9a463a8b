package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

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
		key: "storage.db_path", typ: kString, env: "JARVIS_STORAGE_DB_PATH",
		apply:   func(cfg *Config, v any) { cfg.Storage.DBPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DBPath },
	},
	{
		key: "storage.backup_dir", typ: kString, env: "JARVIS_STORAGE_BACKUP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.BackupDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.BackupDir },
	},
	{
		key: "backup.on_shutdown", typ: kBool, env: "JARVIS_BACKUP_ON_SHUTDOWN",
		apply:   func(cfg *Config, v any) { cfg.Backup.OnShutdown = v.(bool) },
		extract: func(cfg Config) any { return cfg.Backup.OnShutdown },
	},
	{
		key: "backup.max_backups", typ: kInt, env: "JARVIS_BACKUP_MAX_BACKUPS",
		apply:   func(cfg *Config, v any) { cfg.Backup.MaxBackups = v.(int) },
		extract: func(cfg Config) any { return cfg.Backup.MaxBackups },
	},
	{
		key: "log.level", typ: kString, env: "JARVIS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "server.port", typ: kInt, env: "JARVIS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "JARVIS_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "assistant.model", typ: kString, env: "JARVIS_ASSISTANT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "JARVIS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "retrieval.context_limit", typ: kInt, env: "JARVIS_RETRIEVAL_CONTEXT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ContextLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ContextLimit },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts a raw string for the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring unparsable env override", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
