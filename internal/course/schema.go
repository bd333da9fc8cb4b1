package course

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var nonEmptyString = map[string]any{"type": "string", "minLength": 1}

const schemaURL = "schema://course-content.json"

// schemaDefinition is the JSON schema every course file must satisfy after
// decoding. It only enforces what generation depends on: named units with
// topics, identified learning objectives and well-formed skill entries.
var schemaDefinition = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name": nonEmptyString,
		"skills": map[string]any{
			"type": []any{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"skill_name": map[string]any{"type": "string"},
					"subskills": map[string]any{
						"type": []any{"array", "null"},
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"subskill_name":        map[string]any{"type": "string"},
								"subskill_description": map[string]any{"type": "string"},
							},
							"required": []any{"subskill_name"},
						},
					},
				},
				"required": []any{"skill_name"},
			},
		},
		"units": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": nonEmptyString,
					"topics": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":   nonEmptyString,
								"name": map[string]any{"type": "string"},
								"learning_objectives": map[string]any{
									"type": []any{"array", "null"},
									"items": map[string]any{
										"type": "object",
										"properties": map[string]any{
											"id":          nonEmptyString,
											"description": map[string]any{"type": "string"},
										},
										"required": []any{"id"},
									},
								},
							},
							"required": []any{"id"},
						},
					},
				},
				"required": []any{"name", "topics"},
			},
		},
	},
	"required": []any{"name", "units"},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		// The compiler wants decoded JSON, not Go literals.
		raw, err := json.Marshal(schemaDefinition)
		if err != nil {
			compileErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			compileErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if compileErr = c.AddResource(schemaURL, doc); compileErr != nil {
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// validateSchema checks raw course JSON against schemaDefinition.
func validateSchema(raw []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile course schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return sch.Validate(doc)
}
