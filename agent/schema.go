// JSON schemas for the structured reply contract.
//
// Two variants cover the same action vocabulary. The strict schema
// keeps every action field flat at the action's top level; some model
// variants reject deeply nested schemas, and this one stays within
// their nesting limits. The simple schema nests per-action fields under
// an opaque "payload" object with additionalProperties disabled, which
// older model variants accept more reliably. The agent tries strict
// first and falls back to simple.
package agent

// ReplySchemaStrict is the flat schema tried first.
var ReplySchemaStrict = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"assistant_text": map[string]any{"type": "string"},
		"is_final":       map[string]any{"type": "boolean"},
		"actions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": map[string]any{
						"type": "string",
						"enum": []string{"request_files", "open_image", "request_roi", "final"},
					},
					// request_files
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"context_item_id": map[string]any{"type": "string"},
								"kind":            map[string]any{"type": "string"},
								"reason":          map[string]any{"type": "string"},
								"priority":        map[string]any{"type": "string"},
								"crop_id":         map[string]any{"type": "string"},
							},
							"required": []string{"context_item_id", "kind", "reason"},
						},
					},
					// open_image
					"context_item_id": map[string]any{"type": "string"},
					"purpose":         map[string]any{"type": "string"},
					// request_roi
					"image_context_item_id": map[string]any{"type": "string"},
					"goal":                  map[string]any{"type": "string"},
					"dpi":                   map[string]any{"type": "integer"},
					"bbox_x1":               map[string]any{"type": "number"},
					"bbox_y1":               map[string]any{"type": "number"},
					"bbox_x2":               map[string]any{"type": "number"},
					"bbox_y2":               map[string]any{"type": "number"},
					// final
					"confidence": map[string]any{"type": "string"},
					"used_context_item_ids": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					// common
					"note": map[string]any{"type": "string"},
				},
				"required": []string{"type"},
			},
		},
	},
	"required": []string{"assistant_text", "actions", "is_final"},
}

// ReplySchemaSimple is the payload-nested fallback schema.
var ReplySchemaSimple = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"assistant_text": map[string]any{"type": "string"},
		"is_final":       map[string]any{"type": "boolean"},
		"actions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"type": map[string]any{
						"type": "string",
						"enum": []string{"request_files", "open_image", "request_roi", "final"},
					},
					"payload": map[string]any{"type": "object"},
					"note":    map[string]any{"type": "string"},
				},
				"required": []string{"type", "payload"},
			},
		},
	},
	"required": []string{"assistant_text", "actions", "is_final"},
}
