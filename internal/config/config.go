package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/jarvis/internal/ollama"
)

type Config struct {
	Storage   StorageConfig
	Backup    BackupConfig
	Log       LogConfig
	Server    ServerConfig
	Assistant AssistantConfig
	Ollama    OllamaConfig
	Retrieval RetrievalConfig
}

type StorageConfig struct {
	DBPath    string
	BackupDir string
}

type BackupConfig struct {
	OnShutdown bool
	MaxBackups int
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type AssistantConfig struct {
	Model string
}

type OllamaConfig struct {
	BaseURL string
}

type RetrievalConfig struct {
	ContextLimit int
}

func defaults() Config {
	dataDir := DataDir()
	return Config{
		Storage: StorageConfig{
			DBPath:    filepath.Join(dataDir, "jarvis.db"),
			BackupDir: filepath.Join(dataDir, "backups"),
		},
		Backup:    BackupConfig{OnShutdown: true, MaxBackups: 7},
		Log:       LogConfig{Level: "info"},
		Server:    ServerConfig{Port: 4100},
		Assistant: AssistantConfig{Model: "llama3.1:8b"},
		Ollama:    OllamaConfig{BaseURL: ollama.DefaultBaseURL},
		Retrieval: RetrievalConfig{ContextLimit: 3},
	}
}

// Load reads configuration from the YAML file at FilePath(), then applies
// JARVIS_* environment overrides. The API token is resolved separately
// with GetAPIToken so commands that never serve do not create one.
func Load() (Config, error) {
	return LoadFrom(FilePath())
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range value at once.
func (c Config) Validate() error {
	var errs []error
	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path must not be empty"))
	}
	if c.Backup.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("backup.max_backups must not be negative, got %d", c.Backup.MaxBackups))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Retrieval.ContextLimit <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.context_limit must be positive, got %d", c.Retrieval.ContextLimit))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
