package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/knossys/conductor/internal/oerr"
)

// definitionSchema constrains workflow definitions submitted by
// clients. Semantic checks (parseable trigger type, known operators)
// happen after the structural pass.
const definitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "trigger", "actions"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "priority": {"type": "integer"},
    "enabled": {"type": "boolean"},
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["item_created", "item_updated", "item_deleted", "status_changed", "scheduled"]},
        "item_type": {"type": "string"},
        "conditions": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["field", "operator"],
            "properties": {
              "field": {"type": "string", "minLength": 1},
              "operator": {"enum": ["equals", "not_equals", "greater_than", "less_than", "contains"]}
            }
          }
        },
        "schedule": {
          "type": "object",
          "properties": {
            "at": {"type": "string", "format": "date-time"},
            "every_seconds": {"type": "integer", "minimum": 1}
          }
        }
      }
    },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["action_type"],
        "properties": {
          "action_type": {"enum": ["create", "update", "delete", "link", "notify", "schedule"]},
          "target_type": {"type": "string"},
          "target_id": {"type": "string"},
          "parameters": {"type": "object"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("workflow.json", definitionSchema)

// ValidateDefinition checks a raw workflow definition against the
// schema before it is decoded into a Workflow.
func ValidateDefinition(raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return oerr.Validationf("definition", "invalid json: %v", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return oerr.Validationf("definition", "%v", err)
	}
	return nil
}

// validateSemantics covers what the schema cannot express.
func validateSemantics(w Workflow) error {
	if _, err := ParseTriggerType(string(w.Trigger.Type)); err != nil {
		return oerr.Validationf("trigger.type", "%v", err)
	}
	if w.Trigger.Type == TriggerScheduled && w.Trigger.Schedule == nil {
		return oerr.Validationf("trigger.schedule", "scheduled workflows need a schedule")
	}
	if len(w.Actions) == 0 {
		return oerr.Validationf("actions", "a workflow needs at least one action")
	}
	for i, c := range w.Trigger.Conditions {
		switch c.Operator {
		case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains:
		default:
			return oerr.Validationf(fmt.Sprintf("conditions[%d].operator", i), "unknown operator %q", c.Operator)
		}
		if c.Field == "" {
			return oerr.Validationf(fmt.Sprintf("conditions[%d].field", i), "field is required")
		}
	}
	return nil
}
