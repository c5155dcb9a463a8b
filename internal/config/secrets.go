package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const secretService = "jarvis"

// SecretStore holds values that never go into the YAML config.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// ErrSecretNotFound is returned by SecretStore.Get for missing entries.
var ErrSecretNotFound = errors.New("secret not found")

// FileSecrets keeps secrets in a 0600 JSON file keyed by service, then account.
type FileSecrets struct {
	Path string
}

// NewFileSecrets returns the store at DataDir()/secrets.json.
func NewFileSecrets() FileSecrets {
	return FileSecrets{Path: filepath.Join(DataDir(), "secrets.json")}
}

func (f FileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (f FileSecrets) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", service, account, ErrSecretNotFound)
	}
	return val, nil
}

func (f FileSecrets) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, out, 0o600)
}

// GetAPIToken returns the bearer token for the management API, generating
// and persisting a random one on first use.
func GetAPIToken(s SecretStore) (string, error) {
	tok, err := s.Get(secretService, "api_token")
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}

	tok = uuid.NewString()
	if err := s.Set(secretService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
