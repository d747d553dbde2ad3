package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/greenroom-ai/greenroom/pkg/config"
)

// SchemaCmd generates a JSON Schema for the configuration file, for
// editors and CI validation. Output goes to stdout.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://greenroom.ai/schemas/config.json"
	schema.Title = "Greenroom Configuration Schema"
	schema.Description = "Configuration schema for the greenroom orchestration layer"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []any{
		map[string]any{
			"graph": map[string]any{
				"uri":      "bolt://localhost:7687",
				"password": "${NEO4J_PASSWORD}",
			},
			"cache": map[string]any{
				"url": "${REDIS_URL}",
			},
			"llm": map[string]any{
				"providers": map[string]any{
					"primary": map[string]any{
						"provider": "anthropic",
						"model":    "claude-sonnet-4-20250514",
						"api_key":  "${ANTHROPIC_API_KEY}",
					},
				},
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return nil
}
