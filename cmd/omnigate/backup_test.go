package main

import (
	"os"
	"path/filepath"
	"testing"

	"omnigate/internal/config"
)

func TestBackupSet(t *testing.T) {
	cfg := config.Defaults()
	cfg.General.DataDir = "/data"
	set := backupSet(cfg, "/etc/omnigate/config.yaml")
	for name, want := range map[string]string{
		"config.yaml":     "/etc/omnigate/config.yaml",
		"auth.db":         "/data/auth.db",
		"auth.db-wal":     "/data/auth.db-wal",
		"whatsapp.db-shm": "/data/whatsapp.db-shm",
	} {
		if set[name] != want {
			t.Errorf("%s -> %q, want %q", name, set[name], want)
		}
	}
}

func TestBackupRestore(t *testing.T) {
	src := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(src, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}
	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	err := createTarGz(archive, map[string]string{
		"auth.db":  write("auth.db", "creds"),
		"stray.db": write("stray.db", "x"),
	})
	if err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	restored, err := extractTarGz(archive, map[string]string{"auth.db": filepath.Join(dst, "nested", "auth.db")})
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 1 {
		t.Fatalf("restored = %v", restored)
	}
	data, err := os.ReadFile(filepath.Join(dst, "nested", "auth.db"))
	if err != nil || string(data) != "creds" {
		t.Errorf("restored content = %q, %v", data, err)
	}
}

func TestHumanSize(t *testing.T) {
	for n, want := range map[int64]string{12: "12 B", 2048: "2.0 KB", 5 << 20: "5.0 MB"} {
		if got := humanSize(n); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", n, got, want)
		}
	}
}
