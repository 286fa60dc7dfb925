// Command execution for CLI commands.
//
// Information Hiding:
// - Component wiring (model client, storage, renderer) hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akazantsev/drafter/agent"
	"github.com/akazantsev/drafter/config"
	"github.com/akazantsev/drafter/llm"
	"github.com/akazantsev/drafter/logger"
	"github.com/akazantsev/drafter/orchestration"
	"github.com/akazantsev/drafter/queue"
	"github.com/akazantsev/drafter/render"
	"github.com/akazantsev/drafter/storage"
)

// Options holds CLI execution options.
type Options struct {
	Model          string
	ThinkingLevel  string
	ThinkingBudget int32
	Verbose        bool
}

// roiRenderer adapts render.Renderer to the processor's crop contract.
type roiRenderer struct {
	r *render.Renderer
}

func (a roiRenderer) RenderROI(data []byte, bbox agent.BBoxNorm, pageNum, dpi int) ([]byte, error) {
	return a.r.RenderROI(data, render.BBoxNorm{
		X1: bbox.X1,
		Y1: bbox.Y1,
		X2: bbox.X2,
		Y2: bbox.Y2,
	}, pageNum, dpi)
}

type runtime struct {
	settings  config.Settings
	logger    *zap.Logger
	client    *llm.Client
	processor *orchestration.Processor
	traces    *storage.TraceStore
}

func (rt *runtime) close() {
	if rt.traces != nil {
		rt.traces.Close()
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
}

// newRuntime wires the processor stack from settings. The object store
// is optional; callers that need catalog resolution must check
// settings.HasR2() first.
func newRuntime(ctx context.Context) (*runtime, error) {
	settings, err := config.New()
	if err != nil {
		return nil, err
	}

	log := logger.New(settings.Log.FilePath, settings.Log.Prod)

	client, err := llm.NewClient(ctx, settings.Gemini.APIKey, log)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	var store orchestration.ObjectStore
	if settings.HasR2() {
		r2, err := storage.NewR2Client(storage.R2Config{
			PublicBaseURL: settings.R2.PublicBaseURL,
			Endpoint:      settings.R2.Endpoint,
			Bucket:        settings.R2.Bucket,
			AccessKey:     settings.R2.AccessKey,
			SecretKey:     settings.R2.SecretKey,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("create object store: %w", err)
		}
		store = r2
	}

	turnAgent := agent.New(client, log)
	processor := orchestration.NewProcessor(turnAgent, client, store, roiRenderer{render.NewRenderer()}, log)

	traces, err := storage.OpenTraceStore(settings.TraceDBPath)
	if err != nil {
		log.Warn("trace store unavailable", zap.Error(err))
	} else {
		processor = processor.WithTraceStore(traces)
	}

	return &runtime{
		settings:  settings,
		logger:    log,
		client:    client,
		processor: processor,
		traces:    traces,
	}, nil
}

func (rt *runtime) params(userText, catalogJSON string, fileURIs []string, opts Options) orchestration.ContextParams {
	model := opts.Model
	if model == "" {
		model = rt.settings.Gemini.Model
	}
	thinking := opts.ThinkingLevel
	if thinking == "" {
		thinking = rt.settings.Gemini.ThinkingLevel
	}
	budget := opts.ThinkingBudget
	if budget == 0 {
		budget = rt.settings.Gemini.ThinkingBudget
	}

	var refs []llm.FileRef
	for _, uri := range fileURIs {
		refs = append(refs, llm.FileRef{URI: uri})
	}

	return orchestration.ContextParams{
		ConversationID:     uuid.NewString(),
		UserText:           userText,
		Model:              model,
		ThinkingLevel:      thinking,
		ThinkingBudget:     budget,
		FileRefs:           refs,
		ContextCatalogJSON: catalogJSON,
	}
}

// Ask runs one agentic question to completion and prints the answer.
// catalogPath may be empty; when set it must point to a JSON catalog of
// downloadable context items.
func Ask(ctx context.Context, question, catalogPath string, fileURIs []string, opts Options) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	var catalogJSON string
	if catalogPath != "" {
		data, err := os.ReadFile(catalogPath)
		if err != nil {
			return fmt.Errorf("read catalog: %w", err)
		}
		catalogJSON = string(data)
		if !rt.settings.HasR2() {
			return fmt.Errorf("catalog given but object storage is not configured (R2_ENDPOINT, R2_BUCKET)")
		}
	}

	loopCtx, err := orchestration.NewContext(rt.params(question, catalogJSON, fileURIs, opts))
	if err != nil {
		return err
	}

	result, err := rt.processor.RunLoop(ctx, loopCtx)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", result.AssistantText)
	if opts.Verbose {
		fmt.Printf("\nstate=%s iterations=%d tokens=%d latency=%.0fms\n",
			result.State, result.Iterations, result.TotalTokens, result.LatencyMS)
		if len(result.FilesLoaded) > 0 {
			fmt.Printf("files loaded: %s\n", strings.Join(result.FilesLoaded, ", "))
		}
	}
	return nil
}

// Enqueue pushes an agentic question onto the Redis queue and prints
// the job id.
func Enqueue(ctx context.Context, question, catalogPath string, fileURIs []string, opts Options) error {
	settings, err := config.New()
	if err != nil {
		return err
	}
	log := logger.New(settings.Log.FilePath, settings.Log.Prod)
	defer func() { _ = log.Sync() }()

	q := queue.New(queue.Options{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	}, log)
	defer q.Close()

	if err := q.Ping(ctx); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = settings.Gemini.Model
	}

	job := queue.NewJob(uuid.NewString(), question, model)
	job.ThinkingLevel = opts.ThinkingLevel
	job.ThinkingBudget = opts.ThinkingBudget
	for _, uri := range fileURIs {
		job.FileRefs = append(job.FileRefs, llm.FileRef{URI: uri})
	}
	if catalogPath != "" {
		data, err := os.ReadFile(catalogPath)
		if err != nil {
			return fmt.Errorf("read catalog: %w", err)
		}
		job.ContextCatalogJSON = string(data)
	}

	id, err := q.Enqueue(ctx, job)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s\n", id)
	return nil
}

// Worker runs the queue worker until ctx is cancelled.
func Worker(ctx context.Context) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	q := queue.New(queue.Options{
		Addr:     rt.settings.Redis.Addr,
		Password: rt.settings.Redis.Password,
		DB:       rt.settings.Redis.DB,
	}, rt.logger)
	defer q.Close()

	if err := q.Ping(ctx); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	worker := queue.NewWorker(q, rt.processor, rt.logger, func(job queue.Job, result orchestration.LoopResult) {
		fmt.Printf("[%s] %s (state=%s, iterations=%d)\n",
			job.ID, firstLine(result.AssistantText), result.State, result.Iterations)
	})

	fmt.Println("Worker running. Ctrl+C to stop.")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// ListFiles prints the files currently held by the model's file
// service.
func ListFiles(ctx context.Context) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	files, err := rt.client.ListFiles(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No files.")
		return nil
	}
	for _, f := range files {
		fmt.Printf("%s\t%s\t%s\n", f.Name, f.MIMEType, f.DisplayName)
	}
	return nil
}

// DeleteFile removes a file from the model's file service.
func DeleteFile(ctx context.Context, name string) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.client.DeleteFile(ctx, name); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", name)
	return nil
}

// ListTraces prints recent model traces, newest first.
func ListTraces(ctx context.Context, limit int, asJSON bool) error {
	settings, err := config.New()
	if err != nil {
		return err
	}

	traces, err := storage.OpenTraceStore(settings.TraceDBPath)
	if err != nil {
		return fmt.Errorf("open trace store: %w", err)
	}
	defer traces.Close()

	list, err := traces.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No traces.")
		return nil
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	for _, t := range list {
		fmt.Printf("%s  %s  %s  final=%v  %.0fms\n\t%s\n",
			t.Timestamp.Format("2006-01-02 15:04:05"),
			shortID(t.ID), t.Model, t.IsFinal, t.LatencyMS,
			firstLine(t.AssistantText))
	}
	return nil
}

// shortID abbreviates a trace id for table output. Ids shorter than
// eight bytes pass through unchanged.
func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
