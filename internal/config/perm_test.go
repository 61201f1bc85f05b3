//go:build !windows

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckFilePermissionsRejectsGroupReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[general]\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := checkFilePermissions(path); err == nil {
		t.Fatal("expected rejection of a group-readable config file")
	}
}

func TestCheckFilePermissionsAcceptsPrivateOwnedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[general]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := checkFilePermissions(path); err != nil {
		t.Fatalf("expected a 0600 file owned by the running uid to pass, got %v", err)
	}
}
