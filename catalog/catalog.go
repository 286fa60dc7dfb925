// Package catalog resolves context item ids to resource locators.
//
// A catalog is built once per conversation turn from a JSON array of
// items and never mutated afterward. Lookups are read-only and a miss
// is safe: unknown ids simply resolve to nothing.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Item is one externally addressable resource the model may reference.
type Item struct {
	ContextItemID string `json:"context_item_id"`
	R2Key         string `json:"r2_key,omitempty"`
	R2URL         string `json:"r2_url,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Label         string `json:"label,omitempty"`
	PageNum       int    `json:"page_num,omitempty"`
}

// Locator is the resolved fetch address for an item. URL is preferred
// over Key when both are set.
type Locator struct {
	URL string
	Key string
}

// Catalog is an immutable id -> item lookup.
type Catalog struct {
	items map[string]Item
	raw   string
}

// Parse builds a catalog from a JSON array payload. An empty payload
// yields an empty catalog. Items without a context_item_id are dropped.
func Parse(catalogJSON string) (*Catalog, error) {
	c := &Catalog{items: make(map[string]Item), raw: catalogJSON}
	if catalogJSON == "" {
		return c, nil
	}

	var list []Item
	if err := json.Unmarshal([]byte(catalogJSON), &list); err != nil {
		return nil, fmt.Errorf("parse context catalog: %w", err)
	}
	for _, item := range list {
		if item.ContextItemID != "" {
			c.items[item.ContextItemID] = item
		}
	}
	return c, nil
}

// Resolve returns the locator for an id. Unknown ids return false,
// never an error.
func (c *Catalog) Resolve(contextItemID string) (Locator, bool) {
	item, ok := c.items[contextItemID]
	if !ok {
		return Locator{}, false
	}
	return Locator{URL: item.R2URL, Key: item.R2Key}, true
}

// Item returns the full catalog entry for an id.
func (c *Catalog) Item(contextItemID string) (Item, bool) {
	item, ok := c.items[contextItemID]
	return item, ok
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// JSON returns the original serialized payload the catalog was built
// from, for prompt injection.
func (c *Catalog) JSON() string {
	return c.raw
}
