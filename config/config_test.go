package config

import (
	"os"
	"path/filepath"
	"testing"

	"ivee/loader"
)

func TestLoadParsesPresetsAndDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixtures.toml")
	contents := `
default_preset = "hello"

[presets.hello]
path = "fixtures/hello.bin"
format = "bin"

[presets.probe]
path = "fixtures/probe.elf"
format = "elf64"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def, ok := cfg.Default()
	if !ok {
		t.Fatal("Default() missing")
	}
	if def.Path != "fixtures/hello.bin" {
		t.Fatalf("default path = %q", def.Path)
	}
	f, err := def.Format()
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if f != loader.FormatBin {
		t.Fatalf("format = %v, want FormatBin", f)
	}

	probe, ok := cfg.Presets["probe"]
	if !ok {
		t.Fatal("probe preset missing")
	}
	pf, err := probe.Format()
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if pf != loader.FormatELF64 {
		t.Fatalf("probe format = %v, want FormatELF64", pf)
	}
}

func TestPresetFormatRejectsUnknown(t *testing.T) {
	p := Preset{FormatName: "weird"}
	if _, err := p.Format(); err == nil {
		t.Fatal("expected error for unknown format string")
	}
}

func TestPresetFormatDefaultsToAny(t *testing.T) {
	p := Preset{FormatName: ""}
	f, err := p.Format()
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if f != loader.FormatAny {
		t.Fatalf("format = %v, want FormatAny", f)
	}
}

func TestDefaultReportsMissingWhenUnset(t *testing.T) {
	cfg := &Config{}
	if _, ok := cfg.Default(); ok {
		t.Fatal("Default() should report false with no default_preset set")
	}
}
