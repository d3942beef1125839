package worker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
)

type sliceQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *sliceQueue) Push(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *sliceQueue) Pop(context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		err := q.err
		q.err = nil
		return "", err
	}
	if len(q.ids) == 0 {
		return "", nil
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, nil
}

func (q *sliceQueue) Len(context.Context) (int64, error) { return 0, nil }
func (q *sliceQueue) Ping(context.Context) error         { return nil }

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func (p *recordingProcessor) ProcessJob(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, id)
	return p.fail[id]
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	q := &sliceQueue{ids: []string{"a", "b", "c"}, err: errors.Unavailable("redis")}
	p := &recordingProcessor{fail: map[string]error{
		"b": errors.NativeFailure(1, nil),
		"c": errors.ResourceUnavailable("busy"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Deps{Queue: q, Processor: p, Concurrency: 2, Log: logger.New(logger.Config{Output: io.Discard})})
	}()

	require.Eventually(t, func() bool { return p.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, p.seen)
}
