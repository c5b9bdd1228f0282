package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jo-hoe/gallerysync/internal/backend/commands"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "outputRoot: /srv/outputs\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.OutputRoot != "/srv/outputs" {
		t.Errorf("Expected outputRoot /srv/outputs, got %s", config.OutputRoot)
	}
	if config.Port != 8000 {
		t.Errorf("Expected default port 8000, got %d", config.Port)
	}
	if config.ImageDir != "txt2img-images" || config.PasteDir != "pastes" {
		t.Errorf("Unexpected buckets: %s, %s", config.ImageDir, config.PasteDir)
	}
	if config.LoadLimit != 4000 {
		t.Errorf("Expected default load limit 4000, got %d", config.LoadLimit)
	}
	if config.Erase.Command != "sdelete" {
		t.Errorf("Expected default erase command sdelete, got %s", config.Erase.Command)
	}
	if len(config.Paste.Commands) != 2 ||
		config.Paste.Commands[0].Name != commands.PngConverterCommandName ||
		config.Paste.Commands[1].Name != commands.FitScaleCommandName {
		t.Errorf("Unexpected default paste commands: %+v", config.Paste.Commands)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	content := `
port: 9000
outputRoot: out
loadLimit: 10
timezone: Europe/Berlin
logLevel: debug
allowList:
  - 192.168.
  - 127.0.0.1
erase:
  command: shred
  args: ["-u"]
paste:
  commands:
    - name: FitScaleCommand
      width: 400
      height: 300
`
	config, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != 9000 || config.LoadLimit != 10 || config.LogLevel != "debug" {
		t.Errorf("Overrides not applied: %+v", config)
	}
	if len(config.AllowList) != 2 || config.AllowList[0] != "192.168." {
		t.Errorf("Unexpected allow list: %v", config.AllowList)
	}
	if config.Erase.Command != "shred" || len(config.Erase.Args) != 1 {
		t.Errorf("Unexpected erase config: %+v", config.Erase)
	}
	if len(config.Paste.Commands) != 1 {
		t.Fatalf("Expected 1 paste command, got %d", len(config.Paste.Commands))
	}
	if width := config.Paste.Commands[0].Params["width"]; width != 400 {
		t.Errorf("Expected inline width param 400, got %v", width)
	}

	loc, err := config.Location()
	if err != nil {
		t.Fatalf("Location failed: %v", err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("Expected Europe/Berlin, got %s", loc)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "empty output root", content: "outputRoot: \"\"\n", wantErr: "OutputRoot"},
		{name: "nested image dir", content: "outputRoot: out\nimageDir: a/b\n", wantErr: "imageDir"},
		{name: "parent paste dir", content: "outputRoot: out\npasteDir: ..\n", wantErr: "pasteDir"},
		{name: "same buckets", content: "outputRoot: out\nimageDir: x\npasteDir: x\n", wantErr: "must differ"},
		{name: "extension without dot", content: "outputRoot: out\nimageExtension: png\n", wantErr: "imageExtension"},
		{name: "zero pixel budget", content: "outputRoot: out\nmaxPastePixels: 0\n", wantErr: "MaxPastePixels"},
		{name: "zero load limit", content: "outputRoot: out\nloadLimit: 0\n", wantErr: "LoadLimit"},
		{name: "unknown timezone", content: "outputRoot: out\ntimezone: Mars/Olympus\n", wantErr: "timezone"},
		{name: "unknown log level", content: "outputRoot: out\nlogLevel: verbose\n", wantErr: "LogLevel"},
		{name: "unknown command", content: "outputRoot: out\npaste:\n  commands:\n    - name: Nope\n", wantErr: "paste command"},
		{name: "bad scale param", content: "outputRoot: out\npaste:\n  commands:\n    - name: FitScaleCommand\n      width: -1\n", wantErr: "paste command"},
		{name: "malformed yaml", content: "outputRoot: [\n", wantErr: "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
