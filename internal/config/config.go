// Package config loads the demo server's YAML configuration, following
// the same load-with-defaults-on-missing-file discipline as
// moai-adk's internal/config.Loader, collapsed to a single file since
// the demo server has one small, flat settings surface rather than
// moai-adk's many independently-versioned sections.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidYAML is returned when a config file exists but fails to parse.
var ErrInvalidYAML = errors.New("config: invalid yaml")

// Config is the demo lspwired server's full settings surface.
type Config struct {
	Listen                   ListenConfig `yaml:"listen"`
	MaxContentLength         int          `yaml:"max_content_length"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
	IncludeExceptionDetails  bool         `yaml:"include_exception_details_in_errors"`
	Trace                    string       `yaml:"trace"`
	Log                      LogConfig    `yaml:"log"`
	Capabilities             map[string]bool `yaml:"capabilities"`
}

// ListenConfig picks the demo server's transport.
type ListenConfig struct {
	// Mode is "stdio" (or empty) or "unix"; `lspwired serve` rejects
	// any other value, including "websocket".
	Mode string `yaml:"mode"`
	// Address, for "unix", is the identity handed to transport.Listen,
	// which derives the socket path from it with transport.SocketPath;
	// it is not used as the socket path itself. Unused for stdio.
	Address string `yaml:"address"`
}

// LogConfig controls the ambient rpclog.Logger.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:                  ListenConfig{Mode: "stdio"},
		MaxContentLength:        100 * 1024 * 1024,
		RequestTimeout:          30 * time.Second,
		IncludeExceptionDetails: false,
		Trace:                   "off",
		Log: LogConfig{
			Path:  "lspwired.log",
			Level: "info",
		},
		Capabilities: map[string]bool{
			"hoverProvider":      true,
			"definitionProvider": true,
			"referencesProvider": true,
		},
	}
}

// Load reads path onto Default(): any field the file leaves out keeps
// its default value. A missing file is not an error: Load returns the defaults
// and logs a warning, matching moai-adk's Loader.Load behavior for a
// missing sections directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filepath.Base(path), errors.Join(ErrInvalidYAML, err))
	}

	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
