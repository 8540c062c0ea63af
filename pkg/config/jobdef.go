package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JobDefinition describes one streaming job: where records come from, which
// backend holds its state and how often it checkpoints.
type JobDefinition struct {
	Name               string `json:"name"`
	Topic              string `json:"topic"`
	StateBackendURL    string `json:"state_backend_url"`
	CheckpointSchedule string `json:"checkpoint_schedule,omitempty"`
}

const jobDefinitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "topic", "state_backend_url"],
	"properties": {
		"name": {
			"type": "string",
			"minLength": 1
		},
		"topic": {
			"type": "string",
			"minLength": 1
		},
		"state_backend_url": {
			"type": "string",
			"minLength": 1
		},
		"checkpoint_schedule": {
			"type": "string"
		}
	},
	"additionalProperties": false
}`

// ParseJobDefinition validates raw JSON against the job schema and decodes
// it. Schema violations are reported field by field.
func ParseJobDefinition(data []byte) (*JobDefinition, error) {
	schemaLoader := gojsonschema.NewStringLoader(jobDefinitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("failed to validate job definition: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, fmt.Errorf("invalid job definition: %s", strings.Join(details, "; "))
	}

	var job JobDefinition
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job definition: %w", err)
	}

	return &job, nil
}
