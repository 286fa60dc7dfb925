package catalog

import "testing"

const sampleCatalog = `[
	{"context_item_id": "doc-1", "r2_key": "chats/abc/doc1.pdf", "r2_url": "https://pub.example.com/chats/abc/doc1.pdf", "kind": "pdf"},
	{"context_item_id": "crop-2", "r2_key": "chats/abc/crop2.png"},
	{"r2_key": "orphan.pdf"}
]`

func TestParse(t *testing.T) {
	c, err := Parse(sampleCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 items (id-less dropped), got %d", c.Len())
	}
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty catalog, got %d items", c.Len())
	}
	if c.JSON() != "" {
		t.Errorf("expected empty raw payload")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("{not json"); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestResolve(t *testing.T) {
	c, err := Parse(sampleCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loc, ok := c.Resolve("doc-1")
	if !ok {
		t.Fatal("expected doc-1 to resolve")
	}
	if loc.URL != "https://pub.example.com/chats/abc/doc1.pdf" {
		t.Errorf("unexpected URL: %s", loc.URL)
	}
	if loc.Key != "chats/abc/doc1.pdf" {
		t.Errorf("unexpected key: %s", loc.Key)
	}
}

func TestResolveMissIsNotAnError(t *testing.T) {
	c, err := Parse(sampleCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loc, ok := c.Resolve("nonexistent")
	if ok {
		t.Fatal("expected miss for unknown id")
	}
	if loc.URL != "" || loc.Key != "" {
		t.Errorf("miss should return a zero locator, got %+v", loc)
	}
}

func TestRawPreserved(t *testing.T) {
	c, err := Parse(sampleCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.JSON() != sampleCatalog {
		t.Error("raw payload should be preserved verbatim for prompt injection")
	}
}
