package tools

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// decodeArgs maps model-supplied arguments onto a typed input struct.
// Decoding is weakly typed because models frequently quote numbers.
func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return protocol.E(protocol.KindInternal, "tools.decode", err)
	}
	if err := decoder.Decode(args); err != nil {
		return protocol.Errorf(protocol.KindValidation, "tools.decode", "invalid arguments: %v", err)
	}
	return nil
}

// entityRef is the shared name-or-id argument shape of the lookup tools.
type entityRef struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

func (r entityRef) validate(op string) error {
	if r.ID == "" && strings.TrimSpace(r.Name) == "" {
		return protocol.Errorf(protocol.KindValidation, "tools."+op, "either id or name is required")
	}
	return nil
}

// params builds the cypher parameter map. Absent selectors are sent as
// null so the templates can test them with IS NOT NULL.
func (r entityRef) params() map[string]any {
	params := map[string]any{"id": nil, "name": nil}
	if r.ID != "" {
		params["id"] = r.ID
	}
	if name := strings.TrimSpace(r.Name); name != "" {
		params["name"] = name
	}
	return params
}

// Schema literal helpers. Parameters are plain JSON-schema maps because
// they pass through to providers verbatim.

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func numberProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}
