package domain

import "encoding/json"

// PayloadSchema returns the JSON schema of Payload. The enumerations come
// from Values so the schema and Validate cannot drift apart.
func PayloadSchema() string {
	values := Values()
	confidence := map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1}
	str := map[string]interface{}{"type": "string"}
	nullableDate := map[string]interface{}{"type": []string{"string", "null"}, "format": "date-time"}
	enum := func(field string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "enum": values[field]}
	}
	item := map[string]interface{}{
		"type":     "object",
		"required": []string{"title", "severity", "confidence"},
		"properties": map[string]interface{}{
			"title":      str,
			"details":    str,
			"owner":      str,
			"severity":   enum("severity"),
			"confidence": confidence,
		},
	}
	list := func(of interface{}) map[string]interface{} {
		return map[string]interface{}{"type": "array", "items": of}
	}

	schema := map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"required": []string{
			"primary_type", "intent", "urgency", "sentiment",
			"needs_response", "waiting_on", "summary", "confidence",
		},
		"properties": map[string]interface{}{
			"primary_type": enum("primary_type"),
			"intent":       enum("intent"),
			"urgency":      enum("urgency"),
			"sentiment":    enum("sentiment"),
			"waiting_on":   enum("waiting_on"),
			"client_or_project": map[string]interface{}{
				"type":     []string{"object", "null"},
				"required": []string{"name", "kind", "confidence"},
				"properties": map[string]interface{}{
					"name":       str,
					"kind":       map[string]interface{}{"type": "string", "enum": []string{string(AttributionClient), string(AttributionProject)}},
					"confidence": confidence,
				},
			},
			"due_by":         nullableDate,
			"needs_response": map[string]interface{}{"type": "boolean"},
			"summary":        map[string]interface{}{"type": "string", "minLength": 1, "maxLength": maxSummaryChars},
			"key_points":     list(str),
			"risks":          list(item),
			"issues":         list(item),
			"blockers":       list(item),
			"open_questions": list(map[string]interface{}{
				"type":     "object",
				"required": []string{"question", "confidence"},
				"properties": map[string]interface{}{
					"question":   str,
					"asked_by":   str,
					"owner":      str,
					"due_by":     nullableDate,
					"confidence": confidence,
				},
			}),
			"answered_questions": list(map[string]interface{}{
				"type":     "object",
				"required": []string{"question", "answer_summary", "confidence"},
				"properties": map[string]interface{}{
					"question":       str,
					"answer_summary": str,
					"confidence":     confidence,
				},
			}),
			"confidence": confidence,
			"entities": list(map[string]interface{}{
				"type":     "object",
				"required": []string{"name", "type", "confidence"},
				"properties": map[string]interface{}{
					"name":       str,
					"type":       str,
					"role":       str,
					"confidence": confidence,
				},
			}),
			"relations": list(map[string]interface{}{
				"type":     "object",
				"required": []string{"source", "target", "type"},
				"properties": map[string]interface{}{
					"source":      str,
					"target":      str,
					"type":        str,
					"source_type": str,
					"target_type": str,
				},
			}),
		},
	}

	b, _ := json.MarshalIndent(schema, "", "  ")
	return string(b)
}
