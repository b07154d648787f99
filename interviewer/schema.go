package interviewer

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var startSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {"type": "string"}
	}
}`)

var respondSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {"type": "string"},
		"is_complete": {"type": "boolean"},
		"updated_state": {
			"type": ["object", "null"],
			"properties": {
				"currentPhase": {"type": "integer"},
				"phaseQuestionIndex": {"type": "integer"},
				"conversationContext": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["role", "content"],
						"properties": {
							"role": {"type": "string"},
							"content": {"type": "string"},
							"timestamp": {"type": ["string", "null"]}
						}
					}
				},
				"phase1Score": {"type": "number"},
				"phase2Score": {"type": "number"},
				"phase3Score": {"type": "number"},
				"phase4Score": {"type": "number"},
				"phase5Score": {"type": "number"},
				"phase6Score": {"type": "number"},
				"redFlags": {"type": "array", "items": {"type": "string"}},
				"totalScore": {"type": ["number", "null"]}
			}
		},
		"evaluation": {
			"type": ["object", "null"],
			"properties": {
				"score": {"type": ["number", "null"]},
				"notes": {"type": ["string", "null"]},
				"detected_red_flags": {"type": ["array", "null"], "items": {"type": "string"}}
			}
		}
	}
}`)

// validate checks body against schema and flattens the violations.
func validate(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s", ErrInvalidReply, strings.Join(errs, "; "))
	}
	return nil
}
