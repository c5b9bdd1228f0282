package core

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/gallerysync/internal/backend/commands"
	"github.com/jo-hoe/gallerysync/internal/backend/commandstructure"
	"github.com/jo-hoe/gallerysync/internal/common"
)

// EraseConfig selects the external secure delete utility. The file path is
// appended after Args.
type EraseConfig struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	TimeoutSeconds int      `yaml:"timeoutSeconds" validate:"gte=0"`
}

// PasteConfig is the command chain applied to pasted clipboard images.
type PasteConfig struct {
	Commands []commandstructure.CommandConfig `yaml:"commands" validate:"dive"`
}

type ServiceConfig struct {
	Port           int         `yaml:"port" validate:"gte=0,lte=65535"`
	OutputRoot     string      `yaml:"outputRoot" validate:"required"`
	ImageDir       string      `yaml:"imageDir" validate:"required"`
	PasteDir       string      `yaml:"pasteDir" validate:"required"`
	ImageExtension string      `yaml:"imageExtension" validate:"required"`
	LoadLimit      int         `yaml:"loadLimit" validate:"gt=0"`
	StaticPrefix   string      `yaml:"staticPrefix" validate:"required"`
	Timezone       string      `yaml:"timezone"`
	LogLevel       string      `yaml:"logLevel" validate:"oneof=debug info warn error"`
	AllowList      []string    `yaml:"allowList"`
	MaxPasteBytes  int         `yaml:"maxPasteBytes" validate:"gt=0"`
	MaxPastePixels int         `yaml:"maxPastePixels" validate:"gt=0"`
	Erase          EraseConfig `yaml:"erase"`
	Paste          PasteConfig `yaml:"paste"`
}

// DefaultConfig returns the configuration used for every field a config file
// leaves unset.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:           8000,
		OutputRoot:     "outputs",
		ImageDir:       "txt2img-images",
		PasteDir:       "pastes",
		ImageExtension: ".png",
		LoadLimit:      4000,
		StaticPrefix:   "/outputs",
		LogLevel:       "info",
		MaxPasteBytes:  32 << 20,
		MaxPastePixels: commands.DefaultMaxPixels,
		Erase: EraseConfig{
			Command:        "sdelete",
			Args:           []string{"-p", "3", "-s", "-q"},
			TimeoutSeconds: 120,
		},
		Paste: PasteConfig{
			Commands: []commandstructure.CommandConfig{
				{Name: commands.PngConverterCommandName, Params: map[string]any{}},
				{Name: commands.FitScaleCommandName, Params: map[string]any{"width": 800, "height": 800}},
			},
		},
	}
}

// LoadConfig loads configuration from the specified YAML file on top of
// DefaultConfig.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return config, nil
}

// Validate checks field constraints, the bucket names and the paste chain.
func (c *ServiceConfig) Validate() error {
	if err := common.ValidateStruct(c); err != nil {
		return err
	}
	if err := validateBucket("imageDir", c.ImageDir); err != nil {
		return err
	}
	if err := validateBucket("pasteDir", c.PasteDir); err != nil {
		return err
	}
	if !strings.HasPrefix(c.ImageExtension, ".") {
		return fmt.Errorf("imageExtension must start with '.', got %q", c.ImageExtension)
	}
	if !strings.HasPrefix(c.StaticPrefix, "/") {
		return fmt.Errorf("staticPrefix must start with '/', got %q", c.StaticPrefix)
	}
	if c.ImageDir == c.PasteDir {
		return fmt.Errorf("imageDir and pasteDir must differ, both are %q", c.ImageDir)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := commandstructure.DefaultRegistry.Build(c.Paste.Commands); err != nil {
		return fmt.Errorf("invalid paste command configuration: %w", err)
	}
	return nil
}

// Location returns the timezone used for date buckets, local time by default.
func (c *ServiceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// validateBucket ensures a bucket is a single directory name below the root.
func validateBucket(field, name string) error {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || path.Clean(name) != name {
		return fmt.Errorf("%s must be a single directory name, got %q", field, name)
	}
	return nil
}
