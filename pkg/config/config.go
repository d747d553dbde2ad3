// Package config defines the yaml-backed configuration for every component
// of the orchestration core. Each section owns its defaults and validation;
// the loader expands ${VAR} references before decoding so secrets stay in
// the environment.
package config

import (
	"fmt"
)

// Config is the root configuration document.
type Config struct {
	Logger        LoggerConfig        `yaml:"logger,omitempty" json:"logger,omitempty"`
	Server        ServerConfig        `yaml:"server,omitempty" json:"server,omitempty"`
	Graph         GraphConfig         `yaml:"graph,omitempty" json:"graph,omitempty"`
	Cache         CacheConfig         `yaml:"cache,omitempty" json:"cache,omitempty"`
	LLM           LLMConfig           `yaml:"llm,omitempty" json:"llm,omitempty"`
	RBAC          RBACConfig          `yaml:"rbac,omitempty" json:"rbac,omitempty"`
	Memory        MemoryConfig        `yaml:"memory,omitempty" json:"memory,omitempty"`
	Agents        AgentsConfig        `yaml:"agents,omitempty" json:"agents,omitempty"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.Graph.SetDefaults()
	c.Cache.SetDefaults()
	c.LLM.SetDefaults()
	c.RBAC.SetDefaults()
	c.Memory.SetDefaults()
	c.Agents.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section and returns the first failure.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"logger", &c.Logger},
		{"server", &c.Server},
		{"graph", &c.Graph},
		{"cache", &c.Cache},
		{"llm", &c.LLM},
		{"rbac", &c.RBAC},
		{"memory", &c.Memory},
		{"agents", &c.Agents},
		{"orchestrator", &c.Orchestrator},
		{"observability", &c.Observability},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Default returns a configuration built entirely from defaults and
// environment variables, for running without a config file.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
