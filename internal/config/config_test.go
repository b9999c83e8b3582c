package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDSNURLEncoding(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		database string
		wantUser string
		wantPass string
		wantDB   string
	}{
		{
			name:     "plain credentials",
			user:     "admin",
			password: "secret",
			database: "analytics",
			wantUser: "admin",
			wantPass: "secret",
			wantDB:   "analytics",
		},
		{
			name:     "password with @",
			user:     "admin",
			password: "pass@word",
			database: "analytics",
			wantUser: "admin",
			wantPass: "pass%40word",
			wantDB:   "analytics",
		},
		{
			name:     "password with colon",
			user:     "admin",
			password: "pass:word",
			database: "analytics",
			wantUser: "admin",
			wantPass: "pass%3Aword",
			wantDB:   "analytics",
		},
		{
			name:     "password with slash",
			user:     "admin",
			password: "pass/word",
			database: "analytics",
			wantUser: "admin",
			wantPass: "pass%2Fword",
			wantDB:   "analytics",
		},
		{
			name:     "user with @",
			user:     "user@domain",
			password: "secret",
			database: "analytics",
			wantUser: "user%40domain",
			wantPass: "secret",
			wantDB:   "analytics",
		},
		{
			name:     "complex password",
			user:     "admin",
			password: "P@ss:w/rd?123",
			database: "analytics",
			wantUser: "admin",
			wantPass: "P%40ss%3Aw%2Frd%3F123",
			wantDB:   "analytics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Cluster: ClusterConfig{
					Host:     "cluster.example.com",
					Port:     5439,
					Database: tt.database,
					User:     tt.user,
					Password: tt.password,
					SSLMode:  "require",
				},
			}
			dsn := cfg.DSN()

			if !strings.Contains(dsn, "//"+tt.wantUser+":") {
				t.Errorf("DSN missing encoded user %q in %q", tt.wantUser, dsn)
			}
			if !strings.Contains(dsn, ":"+tt.wantPass+"@") {
				t.Errorf("DSN missing encoded password %q in %q", tt.wantPass, dsn)
			}
			if !strings.Contains(dsn, "/"+tt.wantDB+"?") {
				t.Errorf("DSN missing encoded database %q in %q", tt.wantDB, dsn)
			}
			if !strings.Contains(dsn, "default_query_exec_mode=simple_protocol") {
				t.Errorf("DSN missing simple protocol directive: %q", dsn)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Cluster.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Cluster.Port)
	}
	if cfg.Analysis.Schema != "public" {
		t.Errorf("expected default schema public, got %q", cfg.Analysis.Schema)
	}
	if cfg.Analysis.TargetSchema != "public" {
		t.Errorf("expected target schema to default to analysis schema, got %q", cfg.Analysis.TargetSchema)
	}
	if cfg.Analysis.Workers != DefaultWorkers {
		t.Errorf("expected default workers %d, got %d", DefaultWorkers, cfg.Analysis.Workers)
	}
	if cfg.Analysis.SlotCount != DefaultSlotCount {
		t.Errorf("expected default slot count %d, got %d", DefaultSlotCount, cfg.Analysis.SlotCount)
	}
}

func TestSingleTableForcesOneWorker(t *testing.T) {
	cfg := &Config{
		Analysis: AnalysisConfig{
			Table:   "events",
			Workers: 8,
		},
	}
	cfg.ApplyDefaults()

	if !cfg.SingleTable() {
		t.Fatal("expected single-table scope")
	}
	if cfg.Analysis.Workers != 1 {
		t.Errorf("single-table scope should force 1 worker, got %d", cfg.Analysis.Workers)
	}
}

func TestTargetSchemaPreserved(t *testing.T) {
	cfg := &Config{
		Analysis: AnalysisConfig{
			Schema:       "events",
			TargetSchema: "events_optimized",
		},
	}
	cfg.ApplyDefaults()

	if cfg.Analysis.TargetSchema != "events_optimized" {
		t.Errorf("explicit target schema overwritten: %q", cfg.Analysis.TargetSchema)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "complete config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Cluster.Host = "" },
			wantErr: "cluster host",
		},
		{
			name:    "missing database",
			mutate:  func(c *Config) { c.Cluster.Database = "" },
			wantErr: "database",
		},
		{
			name:    "missing user",
			mutate:  func(c *Config) { c.Cluster.User = "" },
			wantErr: "user",
		},
		{
			name:    "negative comprows",
			mutate:  func(c *Config) { c.Analysis.Comprows = -1 },
			wantErr: "comprows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Cluster: ClusterConfig{
					Host:     "cluster.example.com",
					Database: "analytics",
					User:     "admin",
				},
			}
			cfg.ApplyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recomp.yaml")
	content := `
cluster:
  host: cluster.example.com
  database: analytics
  user: admin
analysis:
  schema: events
  workers: 4
  do_execute: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cluster.Host != "cluster.example.com" {
		t.Errorf("host = %q", cfg.Cluster.Host)
	}
	if cfg.Analysis.Schema != "events" {
		t.Errorf("schema = %q", cfg.Analysis.Schema)
	}
	if cfg.Analysis.Workers != 4 {
		t.Errorf("workers = %d", cfg.Analysis.Workers)
	}
	if !cfg.Analysis.Execute {
		t.Error("do_execute not parsed")
	}
}

func TestLoadMissingFileReturnsZeroConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster.Host != "" {
		t.Errorf("expected zero config, got host %q", cfg.Cluster.Host)
	}
}
