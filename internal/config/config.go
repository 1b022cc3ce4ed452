// Package config stores the dsync CLI's settings and cached identity
// credentials as JSON under ~/.config/dsync.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SyncConfig holds server connection settings.
type SyncConfig struct {
	URL    string `json:"url"`
	PoolID string `json:"pool_id"`
}

// Config is the global dsync config stored at ~/.config/dsync/config.json.
type Config struct {
	Sync    SyncConfig `json:"sync"`
	DataDir string     `json:"data_dir,omitempty"` // overrides ~/.local/share/dsync
}

// AuthCredentials stores cached identity state at ~/.config/dsync/auth.json.
type AuthCredentials struct {
	IdentityID string `json:"identity_id"`
	DeviceID   string `json:"device_id"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/dsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "dsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the global config; a missing file yields defaults.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config using an atomic temp-file + rename.
func Save(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "config.json"), cfg)
}

// ServerURL returns the configured server URL or the local default.
func (c *Config) ServerURL() string {
	if c.Sync.URL != "" {
		return c.Sync.URL
	}
	return defaultServerURL
}

// ResolveDataDir returns the directory holding the local database.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "dsync"), nil
}

// LoadAuth reads the cached credentials; a missing file yields empty
// credentials with a freshly generated device id.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &AuthCredentials{DeviceID: uuid.NewString()}, nil
		}
		return nil, err
	}
	var auth AuthCredentials
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}
	if auth.DeviceID == "" {
		auth.DeviceID = uuid.NewString()
	}
	return &auth, nil
}

// SaveAuth writes the cached credentials.
func SaveAuth(auth *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "auth.json"), auth)
}

// ClearAuth removes the cached credentials. Missing files are fine.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// writeAtomic marshals v and writes it via temp file + rename.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dsync-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
