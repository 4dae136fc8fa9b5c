package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/splax/placeshare/pkg/logger"
)

func TestNewValidatesArguments(t *testing.T) {
	dir := t.TempDir()
	if _, err := New("", dir, logger.Discard()); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := New("postgres://localhost/db", "", logger.Discard()); err == nil {
		t.Fatalf("expected error for empty dir")
	}
	if _, err := New("postgres://localhost/db", filepath.Join(dir, "missing"), logger.Discard()); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	file := filepath.Join(dir, "file.sql")
	if err := os.WriteFile(file, []byte("-- +goose Up"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New("postgres://localhost/db", file, logger.Discard()); err == nil {
		t.Fatalf("expected error when path is a file")
	}
	if _, err := New("postgres://localhost/db", dir, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMigrationsDirectoryIsValid(t *testing.T) {
	if _, err := New("postgres://localhost/db", filepath.Join("..", "..", "..", "db", "migrations"), logger.Discard()); err != nil {
		t.Fatalf("repository migrations dir should be usable: %v", err)
	}
}
