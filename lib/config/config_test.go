// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hearth.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  name: example.org
database:
  path: /var/lib/hearth/events.db
  pool_size: 8
rooms:
  default_visibility: public
purge:
  batch_size: 50
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Name != "example.org" {
		t.Errorf("Server.Name = %q, want %q", cfg.Server.Name, "example.org")
	}
	if cfg.Database.Path != "/var/lib/hearth/events.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Database.PoolSize != 8 {
		t.Errorf("Database.PoolSize = %d, want 8", cfg.Database.PoolSize)
	}
	if cfg.Rooms.DefaultVisibility != "public" {
		t.Errorf("Rooms.DefaultVisibility = %q, want public", cfg.Rooms.DefaultVisibility)
	}
	if cfg.Purge.BatchSize != 50 {
		t.Errorf("Purge.BatchSize = %d, want 50", cfg.Purge.BatchSize)
	}
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  name: example.org
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.PoolSize != 4 {
		t.Errorf("Database.PoolSize = %d, want default 4", cfg.Database.PoolSize)
	}
	if cfg.Rooms.DefaultVisibility != "private" {
		t.Errorf("Rooms.DefaultVisibility = %q, want default private", cfg.Rooms.DefaultVisibility)
	}
	if cfg.Purge.BatchSize != 100 {
		t.Errorf("Purge.BatchSize = %d, want default 100", cfg.Purge.BatchSize)
	}
}

func TestLoadFileMissingServerName(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/events.db
`)
	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("LoadFile succeeded without server.name")
	}
	if !strings.Contains(err.Error(), "server.name") {
		t.Errorf("error = %v, want mention of server.name", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  name: example.org
database:
  pool_size: 4
production:
  database:
    path: /srv/hearth/events.db
    pool_size: 16
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.PoolSize != 16 {
		t.Errorf("Database.PoolSize = %d, want overridden 16", cfg.Database.PoolSize)
	}
	if cfg.Database.Path != "/srv/hearth/events.db" {
		t.Errorf("Database.Path = %q, want overridden path", cfg.Database.Path)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HEARTH_TEST_DIR", "/data")
	path := writeConfig(t, `
server:
  name: example.org
database:
  path: ${HEARTH_TEST_DIR}/events.db
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.Path != "/data/events.db" {
		t.Errorf("Database.Path = %q, want expanded path", cfg.Database.Path)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("HEARTH_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without HEARTH_CONFIG")
	}
}

func TestLoadFileInvalidVisibility(t *testing.T) {
	path := writeConfig(t, `
server:
  name: example.org
rooms:
  default_visibility: everyone
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted invalid default_visibility")
	}
}
