package config

import (
	"testing"

	"noded/internal/nodeerr"
)

func TestLoadNodeNonexistentFile(t *testing.T) {
	if _, err := LoadNode("/definitely/not/a/real/file-12345.yaml"); !nodeerr.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for nonexistent file, got %v", err)
	}
}

func TestLoadNodeInvalidYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.yaml", "version: 2\n: broken\n")
	if _, err := LoadNode(p); !nodeerr.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for invalid YAML, got %v", err)
	}
}

func TestLoadNodeInvalidJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.json", `{ "version": 2, "paths": }`)
	if _, err := LoadNode(p); !nodeerr.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for invalid JSON, got %v", err)
	}
}

func TestLoadNodeInvalidTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.toml", "version=2\npaths\n")
	if _, err := LoadNode(p); !nodeerr.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for invalid TOML, got %v", err)
	}
}

func TestLoadNodeUnsupportedExtension(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := LoadNode(p); !nodeerr.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for unsupported extension, got %v", err)
	}
}
