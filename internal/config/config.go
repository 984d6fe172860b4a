// Package config provides configuration types, defaults and validation for reshuffle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zjrosen/reshuffle/internal/log"
	"github.com/zjrosen/reshuffle/internal/tracing"
)

// Config holds all configuration options for reshuffle.
type Config struct {
	Debug       bool            `mapstructure:"debug"`
	LogFile     string          `mapstructure:"log_file"`
	LogLevel    string          `mapstructure:"log_level"`
	WatchConfig bool            `mapstructure:"watch_config"`
	UI          UIConfig        `mapstructure:"ui"`
	Generator   GeneratorConfig `mapstructure:"generator"`
	Serve       ServeConfig     `mapstructure:"serve"`
	Tracing     tracing.Config  `mapstructure:"tracing"`
}

// UIConfig holds terminal UI options.
type UIConfig struct {
	ShowHelp     bool   `mapstructure:"show_help" yaml:"show_help"`
	HeaderColor  string `mapstructure:"header_color" yaml:"header_color"` // hex color e.g. "#54A0FF"
	Spinner      string `mapstructure:"spinner" yaml:"spinner"`           // dot (default), line, minidot, points
	MouseRefresh bool   `mapstructure:"mouse_refresh" yaml:"mouse_refresh"`
}

// GeneratorConfig holds section generation options.
type GeneratorConfig struct {
	// Validate checks the shape of every generated list before publishing.
	Validate bool `mapstructure:"validate"`

	// FailAfter injects a generation failure after this many successful
	// generations. Zero disables injection.
	FailAfter int `mapstructure:"fail_after"`
}

// ServeConfig holds options for the headless WebSocket host.
type ServeConfig struct {
	Addr       string        `mapstructure:"addr"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

// Spinner names accepted by UIConfig.Spinner.
var Spinners = []string{"dot", "line", "minidot", "points"}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		LogFile:     "debug.log",
		LogLevel:    "debug",
		WatchConfig: true,
		UI: UIConfig{
			ShowHelp:     true,
			HeaderColor:  "#54A0FF",
			Spinner:      "dot",
			MouseRefresh: true,
		},
		Generator: GeneratorConfig{
			Validate: true,
		},
		Serve: ServeConfig{
			Addr:       ":8080",
			CacheTTL:   10 * time.Minute,
			SendBuffer: 32,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// DefaultTracesFilePath returns ~/.config/reshuffle/traces/traces.jsonl, or
// an empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "reshuffle", "traces", "traces.jsonl")
}

// Validate checks the configuration for errors.
func Validate(cfg Config) error {
	if err := ValidateUI(cfg.UI); err != nil {
		return err
	}
	if cfg.Generator.FailAfter < 0 {
		return fmt.Errorf("generator.fail_after must be >= 0, got %d", cfg.Generator.FailAfter)
	}
	if err := ValidateServe(cfg.Serve); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateUI checks UI options.
func ValidateUI(ui UIConfig) error {
	if ui.HeaderColor != "" && !hexColor.MatchString(ui.HeaderColor) {
		return fmt.Errorf("ui.header_color: invalid hex color %q", ui.HeaderColor)
	}
	if ui.Spinner == "" {
		return nil
	}
	for _, s := range Spinners {
		if ui.Spinner == s {
			return nil
		}
	}
	return fmt.Errorf("ui.spinner: unknown spinner %q (valid: %v)", ui.Spinner, Spinners)
}

// ValidateServe checks headless host options.
func ValidateServe(s ServeConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("serve.addr is required")
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("serve.cache_ttl must be >= 0")
	}
	if s.SendBuffer < 1 {
		return fmt.Errorf("serve.send_buffer must be >= 1, got %d", s.SendBuffer)
	}
	return nil
}

// ValidateTracing checks tracing options.
func ValidateTracing(t tracing.Config) error {
	if !t.Enabled {
		return nil
	}
	switch t.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter: invalid value %q (must be none, file, stdout or otlp)", t.Exporter)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", t.SampleRate)
	}
	return nil
}

// DefaultConfigTemplate returns the commented YAML written on first run.
func DefaultConfigTemplate() string {
	return `# reshuffle configuration

# Write a debug log (also enabled by --debug or RESHUFFLE_DEBUG=1)
debug: false
log_file: debug.log
log_level: debug       # debug, info, warn, error

# Reload this file while the TUI runs; a change re-themes and refreshes
watch_config: true

ui:
  show_help: true        # Show the key help footer
  header_color: "#54A0FF"
  spinner: dot           # dot, line, minidot, points
  mouse_refresh: true    # Scrolling up past the top requests a refresh

generator:
  validate: true         # Check every generated list before publishing
  # fail_after: 3        # Inject a failure after N generations (testing)

serve:
  addr: ":8080"
  cache_ttl: 10m         # How long past generations stay retrievable
  send_buffer: 32        # Per-client WebSocket send buffer

tracing:
  enabled: false
  exporter: file         # none, file, stdout, otlp
  # file_path: ~/.config/reshuffle/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig writes the default template to configPath.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
