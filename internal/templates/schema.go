package templates

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const templateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "commands": {
      "type": "object",
      "properties": {
        "setup": {"type": "array", "items": {"type": "string"}},
        "aggregate": {"type": "array", "items": {"type": "string"}},
        "cleanup": {"type": "array", "items": {"type": "string"}}
      }
    },
    "aggregate_objective": {"type": "string", "pattern": "^[A-Za-z0-9_.+-]{1,40}$"},
    "is_aggregate": {"type": "boolean"},
    "sidebar": {
      "type": "object",
      "required": ["displayName", "duration"],
      "properties": {
        "displayName": {"type": "string"},
        "duration": {"type": "integer", "minimum": 0, "maximum": 600},
        "bold": {"type": "boolean"},
        "color": {"type": "string"}
      }
    },
    "score_text": {"type": "string"},
    "reward_cmd": {"type": "string"},
    "reward_name": {"type": "string"}
  },
  "dependentRequired": {
    "sidebar": ["aggregate_objective"],
    "is_aggregate": ["aggregate_objective"]
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(templateSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal template schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("template.json", doc); err != nil {
		return nil, fmt.Errorf("add template schema resource: %w", err)
	}
	schema, err := c.Compile("template.json")
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}
	return schema, nil
}
