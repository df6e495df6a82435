package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "roomsync"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "ROOMSYNC_DATA_DIR"
	// DefaultUserName is shown to other members when no name is configured.
	DefaultUserName = "[Anonymous]"
	// DefaultActivationIntervalSeconds is the room re-join period.
	DefaultActivationIntervalSeconds = 60
	// DefaultDiscoveryTimeoutMS bounds the relay mDNS lookup.
	DefaultDiscoveryTimeoutMS = 3000
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// walletFileName is the default wallet seed file inside keys/.
	walletFileName = "wallet.key"
)

// ClientConfig contains persistent client settings.
type ClientConfig struct {
	ClientID                  string `json:"client_id"`
	ServerURL                 string `json:"server_url"`
	UserName                  string `json:"user_name"`
	UserAvatar                string `json:"user_avatar"`
	WalletKeyPath             string `json:"wallet_key_path"`
	ActivationIntervalSeconds int    `json:"activation_interval_seconds"`
	DiscoveryTimeoutMS        int    `json:"discovery_timeout_ms"`
}

// ActivationInterval returns the room re-join period.
func (c ClientConfig) ActivationInterval() time.Duration {
	return time.Duration(c.ActivationIntervalSeconds) * time.Second
}

// DiscoveryTimeout returns the relay lookup timeout.
func (c ClientConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(c.DiscoveryTimeoutMS) * time.Millisecond
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If ROOMSYNC_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns the config,
// its path and the data directory.
func LoadOrCreate() (*ClientConfig, string, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}

		return cfg, cfgPath, dataDir, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}
	}

	return cfg, cfgPath, dataDir, nil
}

func defaultConfig(dataDir string) *ClientConfig {
	return &ClientConfig{
		ClientID:                  uuid.NewString(),
		UserName:                  DefaultUserName,
		WalletKeyPath:             filepath.Join(dataDir, "keys", walletFileName),
		ActivationIntervalSeconds: DefaultActivationIntervalSeconds,
		DiscoveryTimeoutMS:        DefaultDiscoveryTimeoutMS,
	}
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false

	if _, err := uuid.Parse(cfg.ClientID); err != nil {
		cfg.ClientID = uuid.NewString()
		updated = true
	}

	if cfg.UserName == "" {
		cfg.UserName = DefaultUserName
		updated = true
	}

	if cfg.WalletKeyPath == "" {
		cfg.WalletKeyPath = filepath.Join(dataDir, "keys", walletFileName)
		updated = true
	}

	if cfg.ActivationIntervalSeconds <= 0 {
		cfg.ActivationIntervalSeconds = DefaultActivationIntervalSeconds
		updated = true
	}

	if cfg.DiscoveryTimeoutMS <= 0 {
		cfg.DiscoveryTimeoutMS = DefaultDiscoveryTimeoutMS
		updated = true
	}

	return updated
}
