// Agentic loop processor.
//
// One iteration: call the agent, scan the returned actions in emission
// order, resolve request_files items through catalog -> object store ->
// file service, render and upload ROI crops, and decide continue/stop.
// The first final action in a reply wins and short-circuits the rest.
//
// Information Hiding:
// - Per-item resolution and failure-skip policy hidden
// - Upload dedupe cache hidden
// - Trace recording hidden
package orchestration

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/akazantsev/drafter/agent"
	"github.com/akazantsev/drafter/catalog"
	"github.com/akazantsev/drafter/llm"
	"github.com/akazantsev/drafter/storage"
)

// Uploaded file handles expire on the model side after 48 hours; keep
// cached refs a bit under that.
const uploadCacheTTL = 47 * time.Hour

// Processor drives agentic loop runs. Multiple runs may execute
// concurrently; runs share only the collaborator clients, which are
// safe for concurrent use.
type Processor struct {
	agent       TurnAgent
	uploader    FileUploader
	store       ObjectStore
	renderer    RegionRenderer
	traces      *storage.TraceStore
	uploadCache *gocache.Cache
	logger      *zap.Logger
}

// NewProcessor creates a processor over the given collaborators.
func NewProcessor(turnAgent TurnAgent, uploader FileUploader, store ObjectStore, renderer RegionRenderer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		agent:       turnAgent,
		uploader:    uploader,
		store:       store,
		renderer:    renderer,
		uploadCache: gocache.New(uploadCacheTTL, time.Hour),
		logger:      logger,
	}
}

// WithTraceStore enables model call trace recording.
func (p *Processor) WithTraceStore(traces *storage.TraceStore) *Processor {
	p.traces = traces
	return p
}

// RunLoop executes the agentic loop until a final reply, a user-input
// requirement, or the iteration cap. The only error it returns is a
// model-call failure that survived the agent's schema fallback and the
// transport retries.
func (p *Processor) RunLoop(ctx context.Context, loopCtx *Context) (LoopResult, error) {
	fileRefs := append([]llm.FileRef(nil), loopCtx.FileRefs...)
	var filesLoaded []string

	totals := struct {
		inputTokens  int
		outputTokens int
		latencyMS    float64
	}{}

	var result agent.Result

	for iteration := 0; iteration < MaxIterations; iteration++ {
		p.logger.Info("agentic iteration",
			zap.Int("iteration", iteration+1),
			zap.Int("max_iterations", MaxIterations),
			zap.Int("files", len(fileRefs)),
			zap.Int("catalog_items", loopCtx.Catalog.Len()))

		// The catalog rides along only on the first turn; later turns
		// re-send the bare question and rely on model-side context.
		userPrompt := loopCtx.UserText
		if iteration == 0 && loopCtx.Catalog.JSON() != "" {
			userPrompt = agent.BuildUserPrompt(loopCtx.UserText, loopCtx.Catalog.JSON(), loopCtx.UserTextTemplate)
		}

		var err error
		result, err = p.agent.AskQuestion(ctx, agent.Question{
			UserText:       userPrompt,
			FileRefs:       fileRefs,
			Model:          loopCtx.Model,
			SystemPrompt:   loopCtx.SystemPrompt,
			ThinkingLevel:  loopCtx.ThinkingLevel,
			ThinkingBudget: loopCtx.ThinkingBudget,
		})
		if err != nil {
			return LoopResult{}, err
		}

		totals.inputTokens += result.InputTokens
		totals.outputTokens += result.OutputTokens
		totals.latencyMS += result.LatencyMS

		p.recordTrace(ctx, loopCtx, userPrompt, result)

		p.logger.Info("agent reply",
			zap.Bool("is_final", result.IsFinal),
			zap.Int("actions", len(result.Actions)),
			zap.Int("tokens", result.TotalTokens))

		if result.IsFinal {
			p.logger.Info("loop completed", zap.Int("iterations", iteration+1))
			return p.buildResult(result, StateFinal, true, iteration+1, totals.inputTokens, totals.outputTokens, totals.latencyMS, filesLoaded), nil
		}

		shouldContinue := false
		awaitingUser := false

	actions:
		for _, action := range result.Actions {
			switch action.Type {
			case agent.ActionFinal:
				// First final wins; remaining actions are dropped.
				p.logger.Info("explicit final action")
				return p.buildResult(result, StateFinal, true, iteration+1, totals.inputTokens, totals.outputTokens, totals.latencyMS, filesLoaded), nil

			case agent.ActionRequestFiles:
				items := action.RequestFilesItems()
				if len(items) == 0 {
					p.logger.Warn("request_files action without items")
					continue
				}
				newRefs, loaded := p.processRequestFiles(ctx, loopCtx.Catalog, items)
				for _, ref := range newRefs {
					fileRefs = appendRefIfMissing(fileRefs, ref)
				}
				for _, id := range loaded {
					filesLoaded = appendIfMissing(filesLoaded, id)
				}
				if len(loaded) > 0 {
					shouldContinue = true
					p.logger.Info("loaded files", zap.Strings("context_item_ids", loaded))
				}

			case agent.ActionRequestROI:
				if action.BBox() == nil {
					// The model wants a crop but gave no coordinates;
					// only a human can draw the box. Deliberate early
					// exit, not an error.
					p.logger.Info("request_roi requires user interaction (no bbox)")
					awaitingUser = true
					break actions
				}
				roi, ok := action.ROI()
				if !ok {
					p.logger.Warn("request_roi without image reference")
					continue
				}
				ref, err := p.processROI(ctx, loopCtx.Catalog, roi)
				if err != nil {
					p.logger.Error("failed to process ROI",
						zap.String("context_item_id", roi.ContextItemID),
						zap.Error(err))
					continue
				}
				fileRefs = append(fileRefs, ref)
				filesLoaded = appendIfMissing(filesLoaded, "roi_"+roi.ContextItemID)
				shouldContinue = true

			case agent.ActionOpenImage:
				// Display-only concern for clients; nothing to resolve
				// server-side and no reason to keep looping.
				if ref, ok := action.OpenImage(); ok {
					p.logger.Info("open_image action", zap.String("context_item_id", ref.ContextItemID))
				}
			}
		}

		if awaitingUser {
			return p.buildResult(result, StateAwaitingUser, false, iteration+1, totals.inputTokens, totals.outputTokens, totals.latencyMS, filesLoaded), nil
		}

		if !shouldContinue {
			p.logger.Info("no more actions to process", zap.Int("iteration", iteration+1))
			return p.buildResult(result, StateFinal, result.IsFinal, iteration+1, totals.inputTokens, totals.outputTokens, totals.latencyMS, filesLoaded), nil
		}
	}

	p.logger.Warn("max iterations reached", zap.Int("max_iterations", MaxIterations))
	return p.buildResult(result, StateExhausted, false, MaxIterations, totals.inputTokens, totals.outputTokens, totals.latencyMS, filesLoaded), nil
}

// processRequestFiles resolves each requested item: catalog lookup,
// object store download, file service upload. Individual failures are
// logged and skipped; partial success is acceptable. Returns the refs
// now backing the items (fresh or cached) and the ids that resolved.
func (p *Processor) processRequestFiles(ctx context.Context, cat *catalog.Catalog, items []agent.RequestFilesItem) ([]llm.FileRef, []string) {
	var refs []llm.FileRef
	var loaded []string

	for _, item := range items {
		if item.ContextItemID == "" {
			p.logger.Warn("request_files item without context_item_id, skipping")
			continue
		}

		if cached, ok := p.uploadCache.Get(item.ContextItemID); ok {
			refs = append(refs, cached.(llm.FileRef))
			loaded = append(loaded, item.ContextItemID)
			continue
		}

		locator, ok := cat.Resolve(item.ContextItemID)
		if !ok || (locator.URL == "" && locator.Key == "") {
			p.logger.Warn("no locator for context item",
				zap.String("context_item_id", item.ContextItemID))
			continue
		}

		data, err := p.download(ctx, locator)
		if err != nil {
			p.logger.Error("failed to download item",
				zap.String("context_item_id", item.ContextItemID),
				zap.Error(err))
			continue
		}
		if len(data) == 0 {
			p.logger.Warn("empty data for item",
				zap.String("context_item_id", item.ContextItemID))
			continue
		}

		mimeType := guessMIME(locator.Key)
		ref, err := p.uploader.UploadBytes(ctx, data, mimeType, item.ContextItemID+filepath.Ext(locator.Key))
		if err != nil {
			p.logger.Error("failed to upload item",
				zap.String("context_item_id", item.ContextItemID),
				zap.Error(err))
			continue
		}

		p.uploadCache.Set(item.ContextItemID, ref, gocache.DefaultExpiration)
		refs = append(refs, ref)
		loaded = append(loaded, item.ContextItemID)
	}

	return refs, loaded
}

// processROI downloads the referenced image, renders the requested
// region at high resolution, and uploads the crop. ROI renders are
// never cached; every request produces a fresh crop.
func (p *Processor) processROI(ctx context.Context, cat *catalog.Catalog, roi agent.ROIRequest) (llm.FileRef, error) {
	locator, ok := cat.Resolve(roi.ContextItemID)
	if !ok || (locator.URL == "" && locator.Key == "") {
		return llm.FileRef{}, fmt.Errorf("no locator for %q", roi.ContextItemID)
	}

	data, err := p.download(ctx, locator)
	if err != nil {
		return llm.FileRef{}, fmt.Errorf("download %q: %w", roi.ContextItemID, err)
	}
	if len(data) == 0 {
		return llm.FileRef{}, fmt.Errorf("empty data for %q", roi.ContextItemID)
	}

	p.logger.Info("rendering ROI",
		zap.String("context_item_id", roi.ContextItemID),
		zap.Float64("x1", roi.BBox.X1), zap.Float64("y1", roi.BBox.Y1),
		zap.Float64("x2", roi.BBox.X2), zap.Float64("y2", roi.BBox.Y2),
		zap.Int("dpi", roi.DPI))

	pngBytes, err := p.renderer.RenderROI(data, *roi.BBox, 0, roi.DPI)
	if err != nil {
		return llm.FileRef{}, fmt.Errorf("render ROI for %q: %w", roi.ContextItemID, err)
	}

	displayName := fmt.Sprintf("roi_%s_%ddpi.png", roi.ContextItemID, roi.DPI)
	ref, err := p.uploader.UploadBytes(ctx, pngBytes, "image/png", displayName)
	if err != nil {
		return llm.FileRef{}, fmt.Errorf("upload ROI for %q: %w", roi.ContextItemID, err)
	}

	ref.IsROI = true
	return ref, nil
}

func (p *Processor) download(ctx context.Context, locator catalog.Locator) ([]byte, error) {
	if p.store == nil {
		return nil, fmt.Errorf("object store not configured")
	}
	if locator.URL != "" {
		return p.store.DownloadFromURL(ctx, locator.URL)
	}
	return p.store.DownloadBytes(ctx, locator.Key)
}

func (p *Processor) buildResult(result agent.Result, state TerminalState, isFinal bool, iterations, inputTokens, outputTokens int, latencyMS float64, filesLoaded []string) LoopResult {
	return LoopResult{
		AssistantText:     result.AssistantText,
		Actions:           result.Actions,
		IsFinal:           isFinal,
		State:             state,
		Iterations:        iterations,
		TotalInputTokens:  inputTokens,
		TotalOutputTokens: outputTokens,
		TotalTokens:       inputTokens + outputTokens,
		LatencyMS:         latencyMS,
		FilesLoaded:       filesLoaded,
	}
}

func (p *Processor) recordTrace(ctx context.Context, loopCtx *Context, userPrompt string, result agent.Result) {
	if p.traces == nil {
		return
	}
	trace := storage.NewModelTrace(loopCtx.ConversationID, loopCtx.Model, loopCtx.ThinkingLevel)
	trace.UserText = userPrompt
	trace.AssistantText = result.AssistantText
	trace.IsFinal = result.IsFinal
	trace.LatencyMS = result.LatencyMS
	for _, action := range result.Actions {
		trace.Actions = append(trace.Actions, action.AsMap())
	}
	if err := p.traces.Add(ctx, trace); err != nil {
		p.logger.Warn("failed to record trace", zap.Error(err)) // best effort
	}
}

func guessMIME(key string) string {
	if key != "" {
		if mimeType := mime.TypeByExtension(filepath.Ext(key)); mimeType != "" {
			// TypeByExtension may attach a charset parameter.
			if idx := strings.Index(mimeType, ";"); idx != -1 {
				mimeType = mimeType[:idx]
			}
			return strings.TrimSpace(mimeType)
		}
	}
	return "application/pdf"
}

func appendIfMissing(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func appendRefIfMissing(refs []llm.FileRef, ref llm.FileRef) []llm.FileRef {
	for _, existing := range refs {
		if existing.URI == ref.URI {
			return refs
		}
	}
	return append(refs, ref)
}
