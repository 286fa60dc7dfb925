// Package queue provides the Redis-backed job queue for background
// agentic runs and the worker that drains it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akazantsev/drafter/llm"
)

// DefaultQueueKey is the Redis list jobs are pushed to.
const DefaultQueueKey = "drafter:llm_jobs"

// Job is one queued agentic request.
type Job struct {
	ID                 string        `json:"id"`
	ConversationID     string        `json:"conversation_id"`
	UserText           string        `json:"user_text"`
	Model              string        `json:"model"`
	SystemPrompt       string        `json:"system_prompt,omitempty"`
	UserTextTemplate   string        `json:"user_text_template,omitempty"`
	ThinkingLevel      string        `json:"thinking_level,omitempty"`
	ThinkingBudget     int32         `json:"thinking_budget,omitempty"`
	FileRefs           []llm.FileRef `json:"file_refs,omitempty"`
	ContextCatalogJSON string        `json:"context_catalog,omitempty"`
	RetryCount         int           `json:"retry_count"`
	MaxRetries         int           `json:"max_retries"`
	EnqueuedAt         time.Time     `json:"enqueued_at"`
}

// NewJob creates a job with a fresh id and default retry budget.
func NewJob(conversationID, userText, model string) Job {
	return Job{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserText:       userText,
		Model:          model,
		MaxRetries:     3,
		EnqueuedAt:     time.Now().UTC(),
	}
}

// Queue pushes and pops jobs on a Redis list.
type Queue struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// Options configures a queue connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string // defaults to DefaultQueueKey
}

// New connects to Redis and returns a queue.
func New(opts Options, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := opts.Key
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		key:    key,
		logger: logger,
	}
}

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job. Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	q.logger.Info("job enqueued", zap.String("job_id", job.ID), zap.String("queue", q.key))
	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job. Returns (nil, nil)
// when the timeout elapses with no job available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	values, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(values) < 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply shape")
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &job, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
