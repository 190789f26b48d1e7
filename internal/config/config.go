// Package config loads the legion configuration document and the roles
// file, and models the per-task configuration described in spec.md §3.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Document is the parsed configuration file: a mapping from task name to
// task config, an ordered list of HTTP service descriptors, and the
// defines/defaults maps merged into every task's formatting context.
type Document struct {
	Tasks    map[string]*TaskConfig `mapstructure:"tasks"`
	Settings Settings               `mapstructure:"settings"`

	Defines      map[string]any `mapstructure:"defines"`
	Defaults     map[string]any `mapstructure:"defaults"`
	RoleDefines  map[string]any `mapstructure:"role_defines"`
	RoleDefaults map[string]any `mapstructure:"role_defaults"`
}

// Settings holds the document-level `settings` block.
type Settings struct {
	HTTP []HTTPConfig `mapstructure:"http"`
}

// HTTPConfig describes one HTTP(S) control/status listener (spec.md §4.9).
type HTTPConfig struct {
	Address  string `mapstructure:"address"` // "[host][:port]" (TCP) or an absolute path (unix)
	Certfile string `mapstructure:"certfile"`
	Control  bool   `mapstructure:"control"` // allow /manage/* on this listener
}

// Load reads and validates the configuration document at path. A missing
// `tasks` key is a fatal load error (spec.md §6).
func Load(path string) (*Document, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TASKFORCE")
	v.AutomaticEnv()

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper drops empty maps when unmarshalling, so `tasks: {}` leaves
	// doc.Tasks nil; presence is checked on the raw document instead.
	if !v.IsSet("tasks") {
		return nil, fmt.Errorf("config load error: missing required 'tasks' section")
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]*TaskConfig)
	}

	for name, tc := range doc.Tasks {
		tc.Name = name
		if err := tc.applyDefaults(); err != nil {
			return nil, fmt.Errorf("task %q: %w", name, err)
		}
	}

	return &doc, nil
}
