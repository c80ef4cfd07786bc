package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		expectError bool
		errorSubstr string
	}{
		{
			name: "defaults",
		},
		{
			name: "neo4j backend",
			args: []string{"-backend", "neo4j", "-neo4j-uri", "neo4j://graph:7687"},
		},
		{
			name:        "kgrest backend without url",
			args:        []string{"-backend", "kgrest"},
			expectError: true,
			errorSubstr: "requires kgrest-url",
		},
		{
			name:        "unknown backend",
			args:        []string{"-backend", "sparql"},
			expectError: true,
			errorSubstr: "unsupported backend",
		},
		{
			name:        "snapshots need the memory backend",
			args:        []string{"-backend", "kgrest", "-kgrest-url", "http://kg", "-snapshot-dir", "snaps"},
			expectError: true,
			errorSubstr: "snapshot-dir requires backend=memory",
		},
		{
			name:        "zero limit from flag",
			args:        []string{"-limit", "0"},
			expectError: true,
			errorSubstr: "limit must be positive",
		},
		{
			name:        "negative retention",
			args:        []string{"-retention", "-1h"},
			expectError: true,
			errorSubstr: "retention cannot be negative",
		},
		{
			name:        "invalid duration from env",
			envVars:     map[string]string{"ROLEMATCH_SNAPSHOT_INTERVAL": "soon"},
			expectError: true,
			errorSubstr: "invalid ROLEMATCH_SNAPSHOT_INTERVAL",
		},
		{
			name:        "invalid bool from env",
			envVars:     map[string]string{"ROLEMATCH_RANK_BY_DISTANCE": "maybe"},
			expectError: true,
			errorSubstr: "invalid ROLEMATCH_RANK_BY_DISTANCE",
		},
		{
			name:        "tls needs both files",
			args:        []string{"-tls-cert", "cert.pem"},
			expectError: true,
			errorSubstr: "must be set together",
		},
		{
			name:        "unknown log format",
			args:        []string{"-log-format", "xml"},
			expectError: true,
			errorSubstr: "unsupported log format",
		},
		{
			name:        "unknown flag",
			args:        []string{"-poll-interval", "5s"},
			expectError: true,
			errorSubstr: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(tt.args)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errorSubstr)
				} else if !strings.Contains(err.Error(), tt.errorSubstr) {
					t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != defaultAddr {
		t.Errorf("expected addr %s, got %s", defaultAddr, cfg.Addr)
	}
	if cfg.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Backend)
	}
	if cfg.InactiveStatus != "CLOSED" {
		t.Errorf("expected inactive status CLOSED, got %s", cfg.InactiveStatus)
	}
	if cfg.CandidateLimit != 5 {
		t.Errorf("expected limit 5, got %d", cfg.CandidateLimit)
	}
	if cfg.SnapshotInterval != 5*time.Minute {
		t.Errorf("expected snapshot interval 5m, got %v", cfg.SnapshotInterval)
	}
	if cfg.RetentionTTL != 0 {
		t.Errorf("expected retention disabled, got %v", cfg.RetentionTTL)
	}
	if !filepath.IsAbs(cfg.DBPath) || filepath.Base(cfg.DBPath) != "rolematch.db" {
		t.Errorf("expected absolute rolematch.db path, got %s", cfg.DBPath)
	}
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("ROLEMATCH_CANDIDATE_LIMIT", "7")
	t.Setenv("ROLEMATCH_INACTIVE_STATUS", "DEACTIVATED")
	t.Setenv("ROLEMATCH_PORT", "9999")
	t.Setenv("ROLEMATCH_RANK_BY_DISTANCE", "true")

	cfg, err := LoadConfig([]string{"-limit", "3", "-kgrest-url", "http://kg/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CandidateLimit != 3 {
		t.Errorf("expected flag limit 3, got %d", cfg.CandidateLimit)
	}
	if cfg.InactiveStatus != "DEACTIVATED" {
		t.Errorf("expected env inactive status, got %s", cfg.InactiveStatus)
	}
	if cfg.Addr != "127.0.0.1:9999" {
		t.Errorf("expected port from env, got %s", cfg.Addr)
	}
	if !cfg.RankByDistance {
		t.Error("expected rank-by-distance from env")
	}
	if cfg.KGRestURL != "http://kg" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.KGRestURL)
	}
}
