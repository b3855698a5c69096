package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestValidatePort(t *testing.T) {
	for _, port := range []int{1, 8318, 65535} {
		if err := validatePort(port); err != nil {
			t.Fatalf("port %d: unexpected error %v", port, err)
		}
	}
	for _, port := range []int{-1, 0, 65536} {
		if err := validatePort(port); err == nil {
			t.Fatalf("port %d: expected error", port)
		}
	}
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	configureLogging("debug")
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	configureLogging("loud")
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected fallback to info, got %s", log.GetLevel())
	}
}

func TestRun_RejectsBadPortOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  dsn: file:cmd.db\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(context.Background(), []string{"-config", path, "-port", "70000"}); err == nil {
		t.Fatalf("expected invalid port error")
	}
}

func TestRun_IssueTokenRequiresSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  dsn: file:cmd.db\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("JWT_SECRET", "")
	if err := run(context.Background(), []string{"-config", path, "-issue-token", "7"}); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}
