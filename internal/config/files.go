package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	serviceAccountFile = "serviceAccount.json"
	vpsConfigFile      = "vps-config.json"
	vpsTokenFile       = "vps-token.json"
)

// ErrCredentialsMissing indicates the credential file for the selected
// backend is absent or unreadable.
var ErrCredentialsMissing = errors.New("config: credentials missing")

// ServiceAccount is the cached JSON credential for the folder-service backend.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
	FolderURI   string `json:"folder_uri"`
}

// VPSConfig holds the HTTP API server location and shared key.
type VPSConfig struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// TokenCache is the persisted bearer token for the HTTP API backend.
type TokenCache struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the cached token is usable at the given instant.
func (t TokenCache) Valid(now time.Time) bool {
	return t.Token != "" && now.Before(t.ExpiresAt)
}

// LoadServiceAccount reads the folder-service credential file.
func (c Config) LoadServiceAccount() (ServiceAccount, error) {
	var sa ServiceAccount
	if err := readJSON(filepath.Join(c.ConfigDir(), serviceAccountFile), &sa); err != nil {
		return ServiceAccount{}, err
	}
	if sa.ClientEmail == "" || sa.TokenURI == "" {
		return ServiceAccount{}, fmt.Errorf("%w: incomplete service account", ErrCredentialsMissing)
	}
	return sa, nil
}

// LoadVPSConfig reads the HTTP backend configuration file. Values already
// present on the Config (from env or config.toml) take precedence.
func (c Config) LoadVPSConfig() (VPSConfig, error) {
	var vc VPSConfig
	err := readJSON(filepath.Join(c.ConfigDir(), vpsConfigFile), &vc)
	if err != nil && !errors.Is(err, ErrCredentialsMissing) {
		return VPSConfig{}, err
	}
	if c.RemoteBaseURL != "" {
		vc.BaseURL = c.RemoteBaseURL
	}
	if c.RemoteAPIKey != "" {
		vc.APIKey = c.RemoteAPIKey
	}
	if vc.BaseURL == "" || vc.APIKey == "" {
		return VPSConfig{}, fmt.Errorf("%w: baseUrl or apiKey not configured", ErrCredentialsMissing)
	}
	return vc, nil
}

// LoadTokenCache reads the persisted bearer token; a missing file yields a
// zero cache, not an error.
func (c Config) LoadTokenCache() (TokenCache, error) {
	var tc TokenCache
	err := readJSON(filepath.Join(c.ConfigDir(), vpsTokenFile), &tc)
	if errors.Is(err, ErrCredentialsMissing) {
		return TokenCache{}, nil
	}
	return tc, err
}

// SaveTokenCache persists the bearer token atomically.
func (c Config) SaveTokenCache(tc TokenCache) error {
	return writeJSON(filepath.Join(c.ConfigDir(), vpsTokenFile), tc)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrCredentialsMissing, path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
