package analysis

// JSON Schemas enforced on structured-generation output. The LLM client
// rejects any payload that does not satisfy the schema, so code consuming
// these artifacts can trust field presence and types.

const segmentAnalysisSchema = `{
	"type": "object",
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"tone": {"type": "string"},
		"entities": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["summary"]
}`

const boundarySchema = `{
	"type": "object",
	"properties": {
		"units": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"unit_number": {"type": "integer"},
					"start_segment": {"type": "integer"},
					"end_segment": {"type": "integer"},
					"start_char_index": {"type": "integer"},
					"end_char_index": {"type": "integer"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["unit_number", "start_segment", "end_segment"]
			}
		}
	},
	"required": ["units"]
}`

const layoutSchema = `{
	"type": "object",
	"properties": {
		"pages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"number": {"type": "integer", "minimum": 1},
					"description": {"type": "string"},
					"text": {"type": "string"}
				},
				"required": ["number"]
			}
		}
	},
	"required": ["pages"]
}`
