// Package jsonx extracts JSON objects from model responses.
//
// Even with a JSON response format requested, some model variants wrap
// the object in markdown fences or prepend commentary. This package
// recovers the object portion before decoding.
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract finds the JSON object inside response and returns it as a raw
// string. Handles pure JSON, fenced blocks (```json ... ```), and an
// object embedded in surrounding text via first-'{' / last-'}' matching.
func Extract(response string) (string, error) {
	response = stripFences(response)

	var probe any
	if err := json.Unmarshal([]byte(response), &probe); err == nil {
		return response, nil
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end > start {
		candidate := response[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &probe); err == nil {
			return candidate, nil
		}
	}

	preview := response
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no valid JSON object in response: %q", preview)
}

// Decode extracts the JSON portion of response and unmarshals it into out.
func Decode(response string, out any) error {
	raw, err := Extract(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return nil
}

// stripFences removes markdown code fence markers around a response.
func stripFences(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}

	return trimmed
}
