package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/zen/internal/config"
	"github.com/rs/zerolog"
)

func TestParseReportDate(t *testing.T) {
	now := time.Date(2024, 3, 5, 15, 42, 0, 0, time.UTC)

	day, err := parseReportDate("", now)
	if err != nil {
		t.Fatalf("parse empty date: %v", err)
	}
	if !day.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start of today, got %s", day)
	}

	day, err = parseReportDate("2024-02-29", now)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	if day.Day() != 29 || day.Location() != time.UTC {
		t.Fatalf("unexpected day %s", day)
	}

	if _, err := parseReportDate("29/02/2024", now); err == nil {
		t.Fatalf("expected an error for a malformed date")
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  http_port: 8080\n  htp_port: 1\npulse:\n  max_flush_delay: 5s\nproxy:\n  enabled: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("find unknown keys: %v", err)
	}
	if len(unknown) != 2 || unknown[0] != "proxy.enabled" || unknown[1] != "server.htp_port" {
		t.Fatalf("expected the two misspelt keys, got %v", unknown)
	}
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.StorageConfig{
		Type: "bolt",
		Path: filepath.Join(t.TempDir(), "zen.bolt"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open bolt storage: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close storage: %v", err)
	}

	if _, err := openStorage(config.StorageConfig{Type: "sqlite"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected an error for an unsupported backend")
	}
}

func TestParseDuration(t *testing.T) {
	if got := parseDuration("250ms", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	if got := parseDuration("soon", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(3725.4); got != "1h2m5s" {
		t.Fatalf("expected 1h2m5s, got %s", got)
	}
}
