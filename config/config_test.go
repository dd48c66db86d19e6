package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sssd-go/snotify"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snotifyd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadResolvesMasks(t *testing.T) {
	path := writeConfig(t, `
burstWindow: 1s
watches:
  - path: /etc/passwd
    mask: [write, rename, remove]
  - path: /etc/group
    mask: [write]
    burstWindow: 250ms
nssModule: /usr/lib/snotify/files.so
cache: /var/lib/snotify/accounts.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BurstWindow != time.Second {
		t.Fatalf("BurstWindow = %v, want 1s", cfg.BurstWindow)
	}
	if len(cfg.Watches) != 2 {
		t.Fatalf("len(Watches) = %d, want 2", len(cfg.Watches))
	}

	want := snotify.OpModify | snotify.OpMovedTo | snotify.OpDelete
	if cfg.Watches[0].Mask != want {
		t.Fatalf("Watches[0].Mask = %v, want %v", cfg.Watches[0].Mask, want)
	}
	if cfg.Watches[1].BurstWindow != 250*time.Millisecond {
		t.Fatalf("Watches[1].BurstWindow = %v, want 250ms", cfg.Watches[1].BurstWindow)
	}
	if cfg.NSSModule != "/usr/lib/snotify/files.so" {
		t.Fatalf("NSSModule = %q", cfg.NSSModule)
	}
}

func TestLoadRejectsEmptyMask(t *testing.T) {
	path := writeConfig(t, `
watches:
  - path: /etc/passwd
    mask: []
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty mask, got nil")
	}
}

func TestLoadRejectsUnrecognizedMaskName(t *testing.T) {
	path := writeConfig(t, `
watches:
  - path: /etc/passwd
    mask: [bogus]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unrecognized mask name, got nil")
	}
}

func TestLoadRejectsMissingPath(t *testing.T) {
	path := writeConfig(t, `
watches:
  - mask: [write]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing path, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
