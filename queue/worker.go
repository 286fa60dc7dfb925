package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akazantsev/drafter/orchestration"
)

// LoopRunner runs the agentic loop for one job. Satisfied by
// *orchestration.Processor.
type LoopRunner interface {
	RunLoop(ctx context.Context, loopCtx *orchestration.Context) (orchestration.LoopResult, error)
}

// Dequeuer is the queue surface the worker needs.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	Enqueue(ctx context.Context, job Job) (string, error)
}

// ResultHandler receives the outcome of each finished job.
type ResultHandler func(job Job, result orchestration.LoopResult)

// Worker drains the queue and runs the agentic loop per job.
type Worker struct {
	queue   Dequeuer
	runner  LoopRunner
	logger  *zap.Logger
	onDone  ResultHandler
	poll    time.Duration
	backoff time.Duration
}

// NewWorker creates a worker. onDone may be nil.
func NewWorker(queue Dequeuer, runner LoopRunner, logger *zap.Logger, onDone ResultHandler) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		runner:  runner,
		logger:  logger,
		onDone:  onDone,
		poll:    5 * time.Second,
		backoff: 10 * time.Second,
	}
}

// Run polls until ctx is cancelled. Infrastructure errors (queue
// unreachable, payload undecodable) trigger a longer sleep before the
// next poll so a flapping Redis is not hammered.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopped")
			return err
		}

		job, err := w.queue.Dequeue(ctx, w.poll)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			w.sleep(ctx, w.backoff)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, *job)
	}
}

// ProcessOne dequeues and handles a single job. Returns false when no
// job was available within the poll timeout.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.poll)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, *job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	w.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("conversation_id", job.ConversationID),
		zap.Int("retry_count", job.RetryCount))

	loopCtx, err := orchestration.NewContext(orchestration.ContextParams{
		ConversationID:     job.ConversationID,
		UserText:           job.UserText,
		Model:              job.Model,
		SystemPrompt:       job.SystemPrompt,
		UserTextTemplate:   job.UserTextTemplate,
		ThinkingLevel:      job.ThinkingLevel,
		ThinkingBudget:     job.ThinkingBudget,
		FileRefs:           job.FileRefs,
		ContextCatalogJSON: job.ContextCatalogJSON,
	})
	if err != nil {
		// A malformed catalog will not fix itself on retry.
		w.logger.Error("job rejected",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return
	}

	result, err := w.runner.RunLoop(ctx, loopCtx)
	if err != nil {
		w.retryOrDrop(ctx, job, err)
		return
	}

	w.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("state", string(result.State)),
		zap.Int("iterations", result.Iterations),
		zap.Int("total_tokens", result.TotalTokens))
	if w.onDone != nil {
		w.onDone(job, result)
	}
}

func (w *Worker) retryOrDrop(ctx context.Context, job Job, runErr error) {
	if job.RetryCount >= job.MaxRetries {
		w.logger.Error("job dropped after max retries",
			zap.String("job_id", job.ID),
			zap.Int("retries", job.RetryCount),
			zap.Error(runErr))
		return
	}
	job.RetryCount++
	if _, err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Error("requeue failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return
	}
	w.logger.Warn("job requeued",
		zap.String("job_id", job.ID),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(runErr))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	<-ctx.Done()
}
