package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akazantsev/drafter/orchestration"
)

// fakeQueue serves jobs from a slice and records requeues.
type fakeQueue struct {
	jobs     []Job
	requeued []Job
	popErr   error
}

func (f *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if f.popErr != nil {
		return nil, f.popErr
	}
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return &job, nil
}

func (f *fakeQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	f.requeued = append(f.requeued, job)
	return job.ID, nil
}

type fakeRunner struct {
	contexts []*orchestration.Context
	result   orchestration.LoopResult
	err      error
}

func (f *fakeRunner) RunLoop(ctx context.Context, loopCtx *orchestration.Context) (orchestration.LoopResult, error) {
	f.contexts = append(f.contexts, loopCtx)
	return f.result, f.err
}

func TestProcessOneRunsJob(t *testing.T) {
	job := NewJob("conv-1", "Какой диаметр вала?", "gemini-2.5-flash")
	q := &fakeQueue{jobs: []Job{job}}
	runner := &fakeRunner{result: orchestration.LoopResult{
		AssistantText: "Диаметр 42 мм.",
		State:         orchestration.StateFinal,
		IsFinal:       true,
		Iterations:    1,
	}}

	var handled []Job
	worker := NewWorker(q, runner, nil, func(j Job, r orchestration.LoopResult) {
		handled = append(handled, j)
		assert.Equal(t, "Диаметр 42 мм.", r.AssistantText)
	})

	ok, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, runner.contexts, 1)
	assert.Equal(t, "conv-1", runner.contexts[0].ConversationID)
	assert.Equal(t, "Какой диаметр вала?", runner.contexts[0].UserText)

	require.Len(t, handled, 1)
	assert.Equal(t, job.ID, handled[0].ID)
	assert.Empty(t, q.requeued)
}

func TestProcessOneEmptyQueue(t *testing.T) {
	worker := NewWorker(&fakeQueue{}, &fakeRunner{}, nil, nil)

	ok, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedJobIsRequeued(t *testing.T) {
	job := NewJob("conv-1", "вопрос", "m")
	q := &fakeQueue{jobs: []Job{job}}
	runner := &fakeRunner{err: errors.New("model unavailable")}

	worker := NewWorker(q, runner, nil, nil)

	ok, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, q.requeued, 1)
	assert.Equal(t, 1, q.requeued[0].RetryCount)
	assert.Equal(t, job.ID, q.requeued[0].ID)
}

func TestJobDroppedAfterMaxRetries(t *testing.T) {
	job := NewJob("conv-1", "вопрос", "m")
	job.RetryCount = job.MaxRetries
	q := &fakeQueue{jobs: []Job{job}}
	runner := &fakeRunner{err: errors.New("model unavailable")}

	worker := NewWorker(q, runner, nil, nil)

	ok, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, q.requeued, "exhausted jobs must not be requeued")
}

func TestMalformedCatalogJobDroppedWithoutRetry(t *testing.T) {
	job := NewJob("conv-1", "вопрос", "m")
	job.ContextCatalogJSON = "{not json"
	q := &fakeQueue{jobs: []Job{job}}
	runner := &fakeRunner{}

	worker := NewWorker(q, runner, nil, nil)

	ok, err := worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, runner.contexts, "rejected job must not reach the loop")
	assert.Empty(t, q.requeued)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := NewWorker(&fakeQueue{}, &fakeRunner{}, nil, nil)

	err := worker.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
