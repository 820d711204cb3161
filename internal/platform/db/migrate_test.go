package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"002_appointments.sql": "CREATE TABLE appointment (id UUID PRIMARY KEY);",
		"001_patients.sql":     "CREATE TABLE patient (id UUID PRIMARY KEY);",
		"010_triage.sql":       "CREATE TABLE triage (id UUID PRIMARY KEY);",
		"README.md":            "not a migration",
		"seed.sql":             "no numeric prefix",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	wantOrder := []int{1, 2, 10}
	for i, v := range wantOrder {
		if migrations[i].Version != v {
			t.Errorf("position %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_patients.sql" {
		t.Errorf("expected 001_patients.sql, got %s", migrations[0].Name)
	}
	if len(migrations[0].Checksum) != 64 {
		t.Errorf("expected sha256 hex checksum, got %q", migrations[0].Checksum)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"001_a.sql": "SELECT 1;",
		"001_b.sql": "SELECT 2;",
	})
	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/path").LoadMigrations(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestBuildStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_a.sql", Checksum: "aaa"},
		{Version: 2, Name: "002_b.sql", Checksum: "bbb"},
		{Version: 3, Name: "003_c.sql", Checksum: "ccc"},
	}
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	applied := map[int]appliedMigration{
		1: {checksum: "aaa", appliedAt: at},
		2: {checksum: "changed", appliedAt: at},
	}

	st := buildStatus(migrations, applied)
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].Modified {
		t.Errorf("001 should be applied and unmodified: %+v", st[0])
	}
	if !st[1].Modified {
		t.Errorf("002 should be flagged modified: %+v", st[1])
	}
	if st[2].Applied || st[2].AppliedAt != nil {
		t.Errorf("003 should be pending: %+v", st[2])
	}
}

func TestScopeDir(t *testing.T) {
	if got := ScopeDir("./migrations", ScopeTenant); got != filepath.Join("migrations", "tenant") {
		t.Errorf("unexpected dir %s", got)
	}
}

func TestLockKey_StablePerSchema(t *testing.T) {
	if lockKey("tenant_a") != lockKey("tenant_a") {
		t.Error("lock key must be deterministic")
	}
	if lockKey("tenant_a") == lockKey("tenant_b") {
		t.Error("lock keys should differ per schema")
	}
}
