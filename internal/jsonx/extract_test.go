package jsonx

import (
	"strings"
	"testing"
)

type testPayload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func decode(t *testing.T, response string) testPayload {
	t.Helper()
	var out testPayload
	if err := Decode(response, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestPureJSON(t *testing.T) {
	result := decode(t, `{"name": "test", "value": 42}`)
	if result.Name != "test" {
		t.Errorf("expected name 'test', got '%s'", result.Name)
	}
	if result.Value != 42 {
		t.Errorf("expected value 42, got %d", result.Value)
	}
}

func TestJSONWithPrefix(t *testing.T) {
	result := decode(t, `Here is the result: {"name": "test", "value": 42}`)
	if result.Name != "test" {
		t.Errorf("expected name 'test', got '%s'", result.Name)
	}
}

func TestJSONWithSuffix(t *testing.T) {
	result := decode(t, `{"name": "test", "value": 42} That's the output.`)
	if result.Value != 42 {
		t.Errorf("expected value 42, got %d", result.Value)
	}
}

func TestJSONWithBoth(t *testing.T) {
	result := decode(t, `Let me think... {"name": "test", "value": 42} Done!`)
	if result.Name != "test" || result.Value != 42 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestFencedJSON(t *testing.T) {
	response := "```json\n{\"name\": \"test\", \"value\": 42}\n```"
	result := decode(t, response)
	if result.Name != "test" {
		t.Errorf("expected name 'test', got '%s'", result.Name)
	}
}

func TestFencedWithoutLanguage(t *testing.T) {
	response := "```\n{\"name\": \"test\", \"value\": 42}\n```"
	result := decode(t, response)
	if result.Value != 42 {
		t.Errorf("expected value 42, got %d", result.Value)
	}
}

func TestNestedObjects(t *testing.T) {
	response := `{"name": "outer", "value": 1, "extra": {"inner": true}}`
	raw, err := Extract(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(raw, `"inner"`) {
		t.Errorf("nested object lost: %s", raw)
	}
}

func TestNoJSON(t *testing.T) {
	_, err := Extract("no json here at all")
	if err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func TestInvalidJSON(t *testing.T) {
	var out testPayload
	err := Decode(`{"name": "test", "value": }`, &out)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestErrorPreviewTruncated(t *testing.T) {
	long := strings.Repeat("x", 500)
	_, err := Extract(long)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > 200 {
		t.Errorf("error message should preview, not dump, the response: %d chars", len(err.Error()))
	}
}
