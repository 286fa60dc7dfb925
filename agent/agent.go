// Agent - one structured request/response turn against the model service.
//
// Information Hiding:
// - Two-tier schema fallback hidden
// - Validation failure recovery hidden (callers always get a
//   well-formed reply)
// - Media-resolution escalation hidden
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akazantsev/drafter/llm"
)

// ValidationFallbackText is returned when the model's reply does not
// validate against the reply contract.
const ValidationFallbackText = "Не удалось разобрать ответ модели. Попробуйте переформулировать вопрос."

// ModelService is the structured-generation capability the agent
// consumes. *llm.Client satisfies it.
type ModelService interface {
	GenerateStructured(ctx context.Context, req llm.StructuredRequest) (map[string]any, *llm.Usage, error)
}

// Question is one turn's input.
type Question struct {
	UserText       string
	FileRefs       []llm.FileRef
	Model          string
	SystemPrompt   string
	ThinkingLevel  string
	ThinkingBudget int32

	// MediaResolution overrides the automatic low/high selection when
	// non-empty.
	MediaResolution llm.MediaResolution
}

// Result is the validated outcome of one turn.
type Result struct {
	AssistantText string
	Actions       []ModelAction
	IsFinal       bool
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	LatencyMS     float64
}

// Agent orchestrates single question turns.
type Agent struct {
	model  ModelService
	logger *zap.Logger
}

// New creates an agent over the given model service.
func New(model ModelService, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{model: model, logger: logger}
}

// AskQuestion runs one structured turn.
//
// The strict schema is tried first; on any error the simple schema is
// attempted before failing. A reply that fails validation is replaced
// by a synthesized safe reply rather than surfaced as an error — only
// both schema attempts failing propagates, with the strict-attempt
// error.
func (a *Agent) AskQuestion(ctx context.Context, q Question) (Result, error) {
	resolution := q.MediaResolution
	if resolution == "" {
		resolution = llm.ResolutionLow
		// ROI crops exist so the model can read fine detail; never
		// down-sample them.
		for _, ref := range q.FileRefs {
			if ref.IsROI {
				resolution = llm.ResolutionHigh
				break
			}
		}
	}
	systemPrompt := q.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	a.logger.Info("ask_question",
		zap.String("model", q.Model),
		zap.String("thinking_level", q.ThinkingLevel),
		zap.Int("file_refs", len(q.FileRefs)),
		zap.String("media_resolution", string(resolution)))

	req := llm.StructuredRequest{
		Model:           q.Model,
		SystemPrompt:    systemPrompt,
		UserText:        q.UserText,
		FileRefs:        q.FileRefs,
		ThinkingLevel:   q.ThinkingLevel,
		ThinkingBudget:  q.ThinkingBudget,
		MediaResolution: resolution,
	}

	start := time.Now()

	payload, usage, err := a.generateWithFallback(ctx, req)
	if err != nil {
		return Result{}, err
	}

	latencyMS := float64(time.Since(start).Microseconds()) / 1000.0

	reply, err := DecodeReply(payload)
	if err != nil {
		a.logger.Error("reply validation failed", zap.Error(err))
		reply = FallbackReply(err)
	}

	result := Result{
		AssistantText: reply.AssistantText,
		Actions:       reply.Actions,
		IsFinal:       reply.IsFinal,
		LatencyMS:     latencyMS,
	}
	if usage != nil {
		result.InputTokens = usage.InputTokens
		result.OutputTokens = usage.OutputTokens
		result.TotalTokens = usage.TotalTokens
	}
	return result, nil
}

// generateWithFallback is the explicit two-step schema pipeline:
// strict, then simple, then propagate the strict error.
func (a *Agent) generateWithFallback(ctx context.Context, req llm.StructuredRequest) (map[string]any, *llm.Usage, error) {
	strictReq := req
	strictReq.Schema = ReplySchemaStrict
	payload, usage, strictErr := a.model.GenerateStructured(ctx, strictReq)
	if strictErr == nil {
		return payload, usage, nil
	}

	a.logger.Warn("strict schema failed, trying simple", zap.Error(strictErr))

	simpleReq := req
	simpleReq.Schema = ReplySchemaSimple
	payload, usage, simpleErr := a.model.GenerateStructured(ctx, simpleReq)
	if simpleErr == nil {
		return payload, usage, nil
	}

	return nil, nil, fmt.Errorf("both schema attempts failed (simple: %v): %w", simpleErr, strictErr)
}

// FallbackReply synthesizes the safe reply substituted when validation
// fails. It always asks for files with an empty item list so the loop
// keeps a well-formed shape without fetching anything.
func FallbackReply(validationErr error) ModelReply {
	return ModelReply{
		AssistantText: ValidationFallbackText,
		Actions: []ModelAction{{
			Type:    ActionRequestFiles,
			Payload: map[string]any{"items": []any{}},
			Note:    fmt.Sprintf("Ошибка валидации ответа: %v", validationErr),
		}},
		IsFinal: false,
	}
}
