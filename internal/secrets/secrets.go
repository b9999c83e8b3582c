// Package secrets loads stored cluster credentials so the password prompt
// can be skipped for known endpoints.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSecretsDir is the dotfile directory shared with the history store.
	DefaultSecretsDir = ".recomp"
	// DefaultSecretsFile is the default credentials filename.
	DefaultSecretsFile = "credentials.yaml"
	// SecretsFileEnvVar allows overriding the credentials file location.
	SecretsFileEnvVar = "RECOMP_CREDENTIALS_FILE"
	// SecureFileMode is the permission mode required on the credentials file.
	SecureFileMode = 0o600
)

// Config is the credentials file content.
type Config struct {
	Clusters []Cluster `yaml:"clusters"`
}

// Cluster matches one endpoint. Empty fields act as wildcards, so an entry
// with only host and password applies to every database and user on that
// host.
type Cluster struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

var (
	loadOnce  sync.Once
	loadedCfg *Config
	loadedErr error
)

// Load reads the credentials file once per process. A missing file is not
// an error; it returns an empty config.
func Load() (*Config, error) {
	loadOnce.Do(func() {
		loadedCfg, loadedErr = load()
	})
	return loadedCfg, loadedErr
}

func load() (*Config, error) {
	path := os.Getenv(SecretsFileEnvVar)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return &Config{}, nil
		}
		path = filepath.Join(home, DefaultSecretsDir, DefaultSecretsFile)
	}
	return loadFile(path)
}

func loadFile(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("credentials file %s must not be readable by group or others (chmod %o)", path, SecureFileMode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return cfg, nil
}

// Password returns the stored password for an endpoint, matching entries in
// file order with empty fields as wildcards.
func (c *Config) Password(host string, port int, database, user string) (string, bool) {
	for _, entry := range c.Clusters {
		if entry.Host != "" && entry.Host != host {
			continue
		}
		if entry.Port != 0 && entry.Port != port {
			continue
		}
		if entry.Database != "" && entry.Database != database {
			continue
		}
		if entry.User != "" && entry.User != user {
			continue
		}
		return entry.Password, true
	}
	return "", false
}
