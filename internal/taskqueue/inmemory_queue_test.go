package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_DueOrder(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "late", NotBefore: now.Add(40 * time.Millisecond)}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "first", NotBefore: now}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "second", NotBefore: now}))
	require.Equal(t, 3, q.Len())

	got1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	got2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	got3, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{"first", "second", "late"}, []string{got1.ID, got2.ID, got3.ID})
	require.False(t, time.Now().Before(got3.NotBefore), "entry dequeued before it was due")
	require.Equal(t, 0, q.Len())
}

func TestInMemoryQueue_EarlierEntryWakesConsumer(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "far", NotBefore: time.Now().Add(time.Hour)}))

	got := make(chan string, 1)
	go func() {
		task, err := q.Dequeue(ctx)
		if err == nil {
			got <- task.ID
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, Task{ID: "now"}))

	select {
	case id := <-got:
		require.Equal(t, "now", id)
	case <-ctx.Done():
		t.Fatal("consumer was not woken by an earlier entry")
	}
}

func TestInMemoryQueue_DequeueRespectsContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_CloseAndDrain(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "a", NotBefore: time.Now().Add(time.Hour)}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "b", NotBefore: time.Now().Add(2 * time.Hour)}))

	drained := q.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, "a", drained[0].ID)

	q.Close()
	q.Close()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, q.Enqueue(ctx, Task{ID: "c"}), ErrQueueClosed)
}
