package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema is the recognized configuration surface. additionalProperties
// is false at every level: unknown fields are a validation error, not a
// silent ignore.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string"},
    "extends": {"type": "array", "items": {"type": "string"}},
    "global": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "logLevel": {"enum": ["debug", "info", "warn", "error"]}
      }
    },
    "rules": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "purchase": {"$ref": "#/$defs/rule"},
        "website": {"$ref": "#/$defs/rule"},
        "destructive": {"$ref": "#/$defs/rule"},
        "secrets": {"$ref": "#/$defs/rule"},
        "exfiltration": {"$ref": "#/$defs/rule"},
        "shell": {"$ref": "#/$defs/patterns"},
        "cloud": {"$ref": "#/$defs/patterns"},
        "code": {"$ref": "#/$defs/patterns"},
        "sanitization": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "minConfidence": {"type": "number", "minimum": 0, "maximum": 1},
            "redactMatches": {"type": "boolean"},
            "action": {"enum": ["redact", "block", "warn"]},
            "categories": {
              "type": "object",
              "additionalProperties": {
                "type": "object",
                "additionalProperties": false,
                "properties": {
                  "enabled": {"type": "boolean"},
                  "action": {"enum": ["redact", "block", "warn"]}
                }
              }
            }
          }
        }
      }
    },
    "approval": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "native": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "timeout": {"type": "integer", "minimum": 1}
          }
        },
        "agentConfirm": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "parameterName": {"type": "string", "minLength": 1}
          }
        },
        "webhook": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "url": {"type": "string"},
            "timeout": {"type": "integer", "minimum": 1},
            "headers": {"type": "object", "additionalProperties": {"type": "string"}}
          }
        }
      }
    },
    "llm": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "model": {"type": "string"},
        "baseUrl": {"type": "string"},
        "timeoutMs": {"type": "integer", "minimum": 1}
      }
    }
  },
  "$defs": {
    "rule": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "severity": {"enum": ["low", "medium", "high", "critical"]},
        "action": {"enum": ["allow", "log", "warn", "confirm", "agent-confirm", "block"]},
        "when": {"type": "string"},
        "mode": {"enum": ["allowlist", "blocklist"]},
        "allowlist": {"type": "array", "items": {"type": "string"}},
        "blocklist": {"type": "array", "items": {"type": "string"}},
        "patterns": {"type": "array", "items": {"type": "string"}},
        "spendLimits": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "perTransaction": {"type": "number", "minimum": 0},
            "daily": {"type": "number", "minimum": 0}
          }
        }
      }
    },
    "patterns": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "patterns": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://clawsec.schemas.local/config.schema.json"
	if err := c.AddResource(url, strings.NewReader(configSchema)); err != nil {
		panic(fmt.Sprintf("config: schema resource: %v", err))
	}
	schema, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("config: schema compile: %v", err))
	}
	return schema
}

// validateSchema checks the merged raw document against the embedded
// schema. The document is round-tripped through JSON so the validator sees
// the value shapes it expects.
func validateSchema(raw map[string]any) error {
	text, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(text, &doc); err != nil {
		return fmt.Errorf("decode config for validation: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
