package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema for the configuration document, for
// editor integration and config linting.
func Schema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: false,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "Greenroom Configuration"
	schema.Description = "Configuration schema for the greenroom orchestration server"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}
