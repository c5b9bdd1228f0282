package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/gallerysync/config.yaml")
	if got := getConfigPath(); got != "/etc/gallerysync/config.yaml" {
		t.Errorf("Expected CONFIG_PATH to win, got %s", got)
	}

	t.Setenv("CONFIG_PATH", "")
	if got := getConfigPath(); filepath.Base(got) != "config.yaml" || !filepath.IsAbs(got) {
		t.Errorf("Expected absolute default config.yaml, got %s", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			if got := parseLogLevel(input); got != want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", input, got, want)
			}
		})
	}
}

func TestCheckConfig_ReportsCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "outputRoot: " + filepath.Join(dir, "outputs") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	previous := configPath
	configPath = path
	t.Cleanup(func() { configPath = previous })

	var out bytes.Buffer
	checkConfigCmd.SetOut(&out)
	t.Cleanup(func() { checkConfigCmd.SetOut(nil) })

	if err := checkConfigCmd.RunE(checkConfigCmd, nil); err != nil {
		t.Fatalf("check-config failed: %v", err)
	}
	for _, want := range []string{
		"is valid",
		"paste commands: PngConverterCommand -> FitScaleCommand",
		"available commands: FitScaleCommand, PngConverterCommand",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestCheckConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("loadLimit: 0\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	previous := configPath
	configPath = path
	t.Cleanup(func() { configPath = previous })

	if err := checkConfigCmd.RunE(checkConfigCmd, nil); err == nil {
		t.Error("Expected an invalid configuration to fail")
	}
}
