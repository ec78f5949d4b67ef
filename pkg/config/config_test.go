package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v2"
)

func TestLoadConfigFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := []byte(`listen: "127.0.0.1:3333"
serial-baud: 57600
image-base: 0x20000
breakpoint-capacity: 200
strict-breakpoints: true
max-attempts: 8
log-output: agent,rspwire
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Listen:             "127.0.0.1:3333",
		SerialBaud:         57600,
		ImageBase:          0x20000,
		BreakpointCapacity: 200,
		StrictBreakpoints:  true,
		MaxAttempts:        8,
		LogOutput:          "agent,rspwire",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFromErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfigFrom(filepath.Join(dir, "missing.yml")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("breakpoint-capacity: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFrom(bad); err == nil {
		t.Errorf("expected an error for a malformed file")
	}
}

func TestDefaultConfigIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDefaultConfig(&buf); err != nil {
		t.Fatal(err)
	}
	var c Config
	if err := yaml.Unmarshal(buf.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Config{}, c); diff != "" {
		t.Fatalf("default config should leave every option unset (-want +got):\n%s", diff)
	}
}

func TestSaveConfigTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	want := &Config{Listen: ":2159", BreakpointCapacity: 8, StrictBreakpoints: true, ImageBase: 0x40000}
	if err := SaveConfigTo(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}
