package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luisdavi29052005/pipfox/internal/feed"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan feed.Job, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		if err == nil {
			result <- job
		}
	}()

	job := feed.Job{Kind: feed.JobStartWorkflow, WorkflowID: "wf-1"}
	require.NoError(t, q.Enqueue(context.Background(), job))

	select {
	case got := <-result:
		require.Equal(t, "wf-1", got.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancellation(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), feed.Job{WorkflowID: "primed"}))
	err = q.Enqueue(ctx, feed.Job{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.EqualError(t, err, "queue closed")

	// Closing twice is safe.
	q.Close()
}
