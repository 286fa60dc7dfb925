// Package orchestration owns the multi-turn agentic loop: it calls the
// agent each turn, interprets the returned actions, resolves requested
// resources through the object store and region renderer, and decides
// when to stop.
package orchestration

import (
	"context"

	"github.com/akazantsev/drafter/agent"
	"github.com/akazantsev/drafter/llm"
)

// MaxIterations bounds the agentic loop. Reaching it is not an error,
// just a terminal state with is_final=false.
const MaxIterations = 5

// TerminalState names how a loop run ended.
type TerminalState string

const (
	// StateFinal: the model produced a final answer, either via an
	// explicit final action or is_final=true with nothing left to do.
	StateFinal TerminalState = "final"

	// StateAwaitingUser: the model asked for a region of interest
	// without coordinates; a human has to draw the box.
	StateAwaitingUser TerminalState = "awaiting_user"

	// StateExhausted: the iteration cap was reached.
	StateExhausted TerminalState = "exhausted"
)

// TurnAgent is the single-turn capability the processor drives.
// *agent.Agent satisfies it.
type TurnAgent interface {
	AskQuestion(ctx context.Context, q agent.Question) (agent.Result, error)
}

// FileUploader uploads bytes to the model's file service.
// *llm.Client satisfies it.
type FileUploader interface {
	UploadBytes(ctx context.Context, data []byte, mimeType, displayName string) (llm.FileRef, error)
}

// ObjectStore fetches resource bytes by key or by pre-built URL.
// *storage.R2Client satisfies it. Transport failures are treated as
// "skip this item", never as loop-fatal.
type ObjectStore interface {
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	DownloadFromURL(ctx context.Context, url string) ([]byte, error)
}

// RegionRenderer crops a normalized region out of a document page at
// the given DPI and returns PNG bytes.
type RegionRenderer interface {
	RenderROI(data []byte, bbox agent.BBoxNorm, pageNum, dpi int) ([]byte, error)
}

// LoopResult is produced exactly once per loop invocation and is
// immutable after return.
type LoopResult struct {
	AssistantText     string
	Actions           []agent.ModelAction
	IsFinal           bool
	State             TerminalState
	Iterations        int
	TotalInputTokens  int
	TotalOutputTokens int
	TotalTokens       int
	LatencyMS         float64
	FilesLoaded       []string
}

// ActionMaps flattens the result actions into plain maps for callers
// that persist or transmit them.
func (r LoopResult) ActionMaps() []map[string]any {
	if len(r.Actions) == 0 {
		return nil
	}
	maps := make([]map[string]any, 0, len(r.Actions))
	for _, action := range r.Actions {
		maps = append(maps, action.AsMap())
	}
	return maps
}
