// Package config handles loading of the razzle override file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Razzle represents the user override file (razzle.config.yaml).
type Razzle struct {
	// Port is the dev-server port used when PORT is not set.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Host is the hostname the dev server is reached on.
	Host string `json:"host" yaml:"host"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `json:"log_level" yaml:"log_level"`

	// NodeCommand runs the compiled server bundle.
	NodeCommand []string `json:"node_command" yaml:"node_command"`

	// ShutdownTimeoutSeconds bounds how long a worker may take to exit on restart.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`

	// RequestWaitSeconds bounds how long the dev server holds a request while
	// the client bundle is compiling.
	RequestWaitSeconds int `json:"request_wait_seconds" yaml:"request_wait_seconds"`

	// DisableHistory turns off the compile history database.
	DisableHistory bool `json:"disable_history,omitempty" yaml:"disable_history,omitempty"`

	// Modify patches the generated build configuration per target name (web, node).
	Modify map[string]TargetPatch `json:"modify,omitempty" yaml:"modify,omitempty"`
}

// TargetPatch is a declarative modification of one target's build configuration.
type TargetPatch struct {
	Define    map[string]string `json:"define,omitempty" yaml:"define,omitempty"`
	External  []string          `json:"external,omitempty" yaml:"external,omitempty"`
	Alias     map[string]string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Loader    map[string]string `json:"loader,omitempty" yaml:"loader,omitempty"`
	Sourcemap string            `json:"sourcemap,omitempty" yaml:"sourcemap,omitempty"`
	Minify    bool              `json:"minify,omitempty" yaml:"minify,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// LoadError reports an override file that exists but cannot be used.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("invalid %s file: %v", filepath.Base(e.Path), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Default returns a Razzle override with sensible defaults.
func Default() *Razzle {
	return &Razzle{
		Host:                   "localhost",
		LogLevel:               "info",
		NodeCommand:            []string{"node"},
		ShutdownTimeoutSeconds: 5,
		RequestWaitSeconds:     30,
	}
}

// Load reads the override file at path.
// If the file doesn't exist, it returns Default.
func Load(path string) (*Razzle, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, &LoadError{Path: path, Err: fmt.Errorf("failed to read file: %w", err)}
	}

	if isJSON(path) {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("failed to parse file: %w", err)}
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills in default values for any fields that are zero/empty.
func (c *Razzle) applyDefaults() {
	defaults := Default()

	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if len(c.NodeCommand) == 0 {
		c.NodeCommand = defaults.NodeCommand
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = defaults.ShutdownTimeoutSeconds
	}
	if c.RequestWaitSeconds <= 0 {
		c.RequestWaitSeconds = defaults.RequestWaitSeconds
	}
}

// Patch returns the declarative patch for a target name, if any.
func (c *Razzle) Patch(target string) (TargetPatch, bool) {
	p, ok := c.Modify[target]
	return p, ok
}

// Save writes the override to path, as JSON or YAML depending on the extension.
func (c *Razzle) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
