package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/greenroom-ai/greenroom/pkg/config"
)

// ValidateCmd loads a configuration file, applies defaults, and runs
// validation without starting anything.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH" type:"path"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	loader, err := config.NewLoader(c.Config)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", c.Config, err)
		return fmt.Errorf("config validation failed")
	}

	if c.PrintConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Printf("# %s (expanded)\n%s", c.Config, out)
		return nil
	}

	fmt.Printf("%s: configuration valid\n", c.Config)
	return nil
}
