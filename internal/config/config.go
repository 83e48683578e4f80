// Package config loads lspwire configuration from YAML. A config file
// names the language server command, the workspace root, timeouts, and
// optional overrides applied to the declared client capabilities.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"github.com/dshills/lspwire/internal/protocol"
)

// Duration wraps time.Duration so YAML values like "10s" parse. Bare
// integers are taken as nanoseconds, matching time.Duration itself.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asStr string
	if err := node.Decode(&asStr); err != nil {
		return fmt.Errorf("duration must be a string or integer")
	}
	parsed, err := time.ParseDuration(asStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asStr, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level lspwire configuration.
type Config struct {
	// Server describes the language server to launch.
	Server Server `yaml:"server"`

	// Root is the workspace root path. Defaults to the config file's
	// directory.
	Root string `yaml:"root"`

	// RequestTimeout is the default per-request deadline.
	RequestTimeout Duration `yaml:"request_timeout"`

	// Trace is the trace level requested from the server
	// ("off", "messages", "verbose").
	Trace string `yaml:"trace"`

	// Capabilities overrides individual fields of the default client
	// capability declaration. Keys are JSON paths such as
	// "textDocument.synchronization.didSave", values are the JSON
	// values to set.
	Capabilities map[string]any `yaml:"capabilities"`
}

// Server describes how to start a language server.
type Server struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		RequestTimeout: Duration(30 * time.Second),
		Trace:          "off",
	}
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Root == "" {
		cfg.Root = filepath.Dir(path)
	}
	if abs, err := filepath.Abs(cfg.Root); err == nil {
		cfg.Root = abs
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Command == "" {
		return fmt.Errorf("server.command is required")
	}
	switch c.Trace {
	case "", "off", "messages", "verbose":
	default:
		return fmt.Errorf("trace: unknown level %q", c.Trace)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout: must not be negative")
	}
	return nil
}

// ClientCapabilities returns the default capability declaration with
// the configured overrides applied.
func (c Config) ClientCapabilities() (json.RawMessage, error) {
	caps := []byte(protocol.DefaultClientCapabilities())
	for path, value := range c.Capabilities {
		var err error
		caps, err = sjson.SetBytes(caps, path, value)
		if err != nil {
			return nil, fmt.Errorf("capability override %q: %w", path, err)
		}
	}
	return caps, nil
}
