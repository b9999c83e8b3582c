// Package config loads and validates the recomp run configuration.
// Settings come from an optional YAML file, overridden by CLI flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the default Redshift cluster endpoint port.
	DefaultPort = 5439

	// DefaultWorkers is the default number of concurrent table workers.
	DefaultWorkers = 2

	// DefaultSlotCount leaves the WLM query slot count untouched.
	DefaultSlotCount = 1

	// StatementTimeoutMS is applied to every session. Analyze compression on
	// large tables can run for a long time.
	StatementTimeoutMS = 1200000

	// StagingSuffix is appended to the staging table name when migrating
	// within the same schema.
	StagingSuffix = "_$mig"

	// BackupSuffix is the rename target for the original table when old data
	// is kept.
	BackupSuffix = "_$old"
)

// ClusterConfig holds the Redshift cluster connection settings.
type ClusterConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full (default: require)
}

// AnalysisConfig holds the scope and behavior of one analysis run.
type AnalysisConfig struct {
	Schema       string `yaml:"schema"`        // schema to analyze (default: public)
	Table        string `yaml:"table"`         // single table scope; forces one worker
	TargetSchema string `yaml:"target_schema"` // create migrated tables here instead of in place
	Workers      int    `yaml:"workers"`
	SlotCount    int    `yaml:"slot_count"`    // wlm_query_slot_count override
	Comprows     int    `yaml:"comprows"`      // analyze compression sample rows, 0 = engine default
	Force        bool   `yaml:"force"`         // migrate even when all recommendations are raw
	DropOldData  bool   `yaml:"drop_old_data"` // drop the original table instead of renaming it
	Execute      bool   `yaml:"do_execute"`    // run the generated statements instead of only emitting them
	IgnoreErrors bool   `yaml:"ignore_errors"` // per-table failures do not fail the run
}

// OutputConfig controls where generated SQL and diagnostics go.
type OutputConfig struct {
	File      string `yaml:"file"`       // duplicate sink output to this file
	Debug     bool   `yaml:"debug"`      // echo catalog/analyzer statements as comments
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text or json
}

// HistoryConfig controls the local run-history store.
type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"` // default: ~/.recomp/history.db
}

// Config is the full, immutable run configuration handed to every component.
type Config struct {
	Cluster  ClusterConfig  `yaml:"cluster"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Output   OutputConfig   `yaml:"output"`
	History  HistoryConfig  `yaml:"history"`
}

// Load reads a YAML config file. A missing path returns a zero config so
// that flag-only invocations work.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields and normalizes the scope. A single-table
// scope is forced down to one worker so the table is processed exactly once
// on one session.
func (c *Config) ApplyDefaults() {
	if c.Cluster.Port == 0 {
		c.Cluster.Port = DefaultPort
	}
	if c.Cluster.SSLMode == "" {
		c.Cluster.SSLMode = "require"
	}
	if c.Analysis.Schema == "" {
		c.Analysis.Schema = "public"
	}
	if c.Analysis.TargetSchema == "" {
		c.Analysis.TargetSchema = c.Analysis.Schema
	}
	if c.Analysis.Workers <= 0 {
		c.Analysis.Workers = DefaultWorkers
	}
	if c.Analysis.Table != "" {
		c.Analysis.Workers = 1
	}
	if c.Analysis.SlotCount <= 0 {
		c.Analysis.SlotCount = DefaultSlotCount
	}
	if c.Output.LogLevel == "" {
		c.Output.LogLevel = "info"
	}
}

// Validate checks that the configuration is complete enough to connect.
func (c *Config) Validate() error {
	var missing []string
	if c.Cluster.Host == "" {
		missing = append(missing, "cluster host")
	}
	if c.Cluster.Database == "" {
		missing = append(missing, "database")
	}
	if c.Cluster.User == "" {
		missing = append(missing, "database user")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Analysis.Comprows < 0 {
		return fmt.Errorf("comprows must be positive, got %d", c.Analysis.Comprows)
	}
	if c.Analysis.SlotCount < 1 {
		return fmt.Errorf("slot count must be at least 1, got %d", c.Analysis.SlotCount)
	}

	return nil
}

// SingleTable reports whether the run is scoped to one named table.
func (c *Config) SingleTable() bool {
	return c.Analysis.Table != ""
}

// DSN builds the cluster connection string. Credentials are URL-escaped so
// passwords containing @, :, or / survive. Redshift does not support the
// extended query protocol's statement cache, so the simple protocol is
// requested explicitly.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&default_query_exec_mode=simple_protocol",
		url.QueryEscape(c.Cluster.User),
		url.QueryEscape(c.Cluster.Password),
		c.Cluster.Host,
		c.Cluster.Port,
		url.QueryEscape(c.Cluster.Database),
		c.Cluster.SSLMode,
	)
}
