package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akazantsev/drafter/llm"
)

// fakeModel scripts GenerateStructured responses per call and records
// the requests it saw.
type fakeModel struct {
	responses []func(req llm.StructuredRequest) (map[string]any, *llm.Usage, error)
	requests  []llm.StructuredRequest
}

func (f *fakeModel) GenerateStructured(ctx context.Context, req llm.StructuredRequest) (map[string]any, *llm.Usage, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i >= len(f.responses) {
		return nil, nil, errors.New("fakeModel: no more scripted responses")
	}
	return f.responses[i](req)
}

func finalPayload(text string) map[string]any {
	return map[string]any{
		"assistant_text": text,
		"actions":        []any{map[string]any{"type": "final"}},
		"is_final":       true,
	}
}

func ok(payload map[string]any, usage *llm.Usage) func(llm.StructuredRequest) (map[string]any, *llm.Usage, error) {
	return func(llm.StructuredRequest) (map[string]any, *llm.Usage, error) {
		return payload, usage, nil
	}
}

func fail(err error) func(llm.StructuredRequest) (map[string]any, *llm.Usage, error) {
	return func(llm.StructuredRequest) (map[string]any, *llm.Usage, error) {
		return nil, nil, err
	}
}

func TestAskQuestionStrictSucceeds(t *testing.T) {
	model := &fakeModel{responses: []func(llm.StructuredRequest) (map[string]any, *llm.Usage, error){
		ok(finalPayload("ответ"), &llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}),
	}}
	a := New(model, nil)

	result, err := a.AskQuestion(context.Background(), Question{UserText: "вопрос", Model: "gemini-2.5-flash"})
	require.NoError(t, err)

	assert.Equal(t, "ответ", result.AssistantText)
	assert.True(t, result.IsFinal)
	assert.Equal(t, 15, result.TotalTokens)
	require.Len(t, model.requests, 1, "simple schema must not be tried after strict success")
	assert.Equal(t, ReplySchemaStrict, model.requests[0].Schema)
}

func TestAskQuestionFallsBackToSimpleSchema(t *testing.T) {
	model := &fakeModel{responses: []func(llm.StructuredRequest) (map[string]any, *llm.Usage, error){
		fail(errors.New("schema rejected")),
		ok(finalPayload("через простую схему"), nil),
	}}
	a := New(model, nil)

	result, err := a.AskQuestion(context.Background(), Question{UserText: "вопрос"})
	require.NoError(t, err)

	assert.Equal(t, "через простую схему", result.AssistantText)
	require.Len(t, model.requests, 2)
	assert.Equal(t, ReplySchemaStrict, model.requests[0].Schema)
	assert.Equal(t, ReplySchemaSimple, model.requests[1].Schema)
}

func TestAskQuestionBothSchemasFail(t *testing.T) {
	strictErr := errors.New("strict boom")
	model := &fakeModel{responses: []func(llm.StructuredRequest) (map[string]any, *llm.Usage, error){
		fail(strictErr),
		fail(errors.New("simple boom")),
	}}
	a := New(model, nil)

	_, err := a.AskQuestion(context.Background(), Question{UserText: "вопрос"})
	require.Error(t, err)
	assert.ErrorIs(t, err, strictErr, "the strict error class must propagate")
	assert.Contains(t, err.Error(), "simple boom")
}

func TestAskQuestionInvalidReplySynthesizesFallback(t *testing.T) {
	bad := map[string]any{
		"assistant_text": "x",
		"actions":        []any{map[string]any{"type": "bogus"}},
		"is_final":       true,
	}
	model := &fakeModel{responses: []func(llm.StructuredRequest) (map[string]any, *llm.Usage, error){
		ok(bad, nil),
	}}
	a := New(model, nil)

	result, err := a.AskQuestion(context.Background(), Question{UserText: "вопрос"})
	require.NoError(t, err, "a validation failure is not a turn failure")

	assert.Equal(t, ValidationFallbackText, result.AssistantText)
	assert.False(t, result.IsFinal)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionRequestFiles, result.Actions[0].Type)
	assert.Empty(t, result.Actions[0].RequestFilesItems())
}

func TestMediaResolutionDefaultsLow(t *testing.T) {
	model := &fakeModel{responses: []func(llm.StructuredRequest) (map[string]any, *llm.Usage, error){
		ok(finalPayload("ответ"), nil),
	}}
	a := New(model, nil)

	_, err := a.AskQuestion(context.Background(), Question{
		UserText: "вопрос",
		FileRefs: []llm.FileRef{{URI: "files/doc", MIMEType: "application/pdf"}},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ResolutionLow, model.requests[0].MediaResolution)
}

func TestMediaResolutionEscalatesForROI(t *testing.T) {
	model := &fakeModel{responses: []func(llm.StructuredRequest) (map[string]any, *llm.Usage, error){
		ok(finalPayload("ответ"), nil),
	}}
	a := New(model, nil)

	_, err := a.AskQuestion(context.Background(), Question{
		UserText: "вопрос",
		FileRefs: []llm.FileRef{
			{URI: "files/doc", MIMEType: "application/pdf"},
			{URI: "files/crop", MIMEType: "image/png", IsROI: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ResolutionHigh, model.requests[0].MediaResolution)
}

func TestMediaResolutionOverrideWins(t *testing.T) {
	model := &fakeModel{responses: []func(llm.StructuredRequest) (map[string]any, *llm.Usage, error){
		ok(finalPayload("ответ"), nil),
	}}
	a := New(model, nil)

	_, err := a.AskQuestion(context.Background(), Question{
		UserText:        "вопрос",
		FileRefs:        []llm.FileRef{{URI: "files/crop", IsROI: true}},
		MediaResolution: llm.ResolutionMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ResolutionMedium, model.requests[0].MediaResolution)
}

func TestBuildUserPromptDefaultTemplate(t *testing.T) {
	prompt := BuildUserPrompt("Какой диаметр вала?", `[{"context_item_id":"doc-1"}]`, "")

	assert.Contains(t, prompt, "Какой диаметр вала?")
	assert.Contains(t, prompt, `[{"context_item_id":"doc-1"}]`)
	assert.False(t, strings.Contains(prompt, "{question}"))
	assert.False(t, strings.Contains(prompt, "{context_catalog_json}"))
}

func TestBuildUserPromptCustomTemplate(t *testing.T) {
	prompt := BuildUserPrompt("q", "[]", "Q: {question}\nCatalog: {context_catalog_json}")
	assert.Equal(t, "Q: q\nCatalog: []", prompt)
}

func TestBuildUserPromptRejectsTemplateWithoutQuestion(t *testing.T) {
	prompt := BuildUserPrompt("мой вопрос", "[]", "шаблон без плейсхолдера")
	assert.Contains(t, prompt, "мой вопрос", "template missing {question} falls back to the default")
}
