package orchestration

import (
	"github.com/akazantsev/drafter/catalog"
	"github.com/akazantsev/drafter/llm"
)

// Context is the per-run input of one agentic loop invocation. It is
// created for one user turn, lives for the duration of the loop, and is
// discarded after producing a LoopResult. The catalog is parsed once at
// creation and never mutated; each run owns its own instance.
type Context struct {
	ConversationID   string
	UserText         string
	SystemPrompt     string
	UserTextTemplate string
	Model            string
	ThinkingLevel    string
	ThinkingBudget   int32

	// FileRefs already attached to the conversation before this turn.
	FileRefs []llm.FileRef

	Catalog *catalog.Catalog
}

// ContextParams collects the inputs for NewContext.
type ContextParams struct {
	ConversationID   string
	UserText         string
	SystemPrompt     string
	UserTextTemplate string
	Model            string
	ThinkingLevel    string
	ThinkingBudget   int32
	FileRefs         []llm.FileRef

	// ContextCatalogJSON is the serialized catalog payload; empty means
	// no catalog.
	ContextCatalogJSON string
}

// NewContext builds a loop context, parsing the catalog payload.
func NewContext(params ContextParams) (*Context, error) {
	cat, err := catalog.Parse(params.ContextCatalogJSON)
	if err != nil {
		return nil, err
	}

	return &Context{
		ConversationID:   params.ConversationID,
		UserText:         params.UserText,
		SystemPrompt:     params.SystemPrompt,
		UserTextTemplate: params.UserTextTemplate,
		Model:            params.Model,
		ThinkingLevel:    params.ThinkingLevel,
		ThinkingBudget:   params.ThinkingBudget,
		FileRefs:         params.FileRefs,
		Catalog:          cat,
	}, nil
}
