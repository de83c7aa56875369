package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "agent_tasks:agent_a", TaskQueueKey("agent_a"))
	assert.Equal(t, "result:task-1:agent_a", ResultKey("task-1", "agent_a"))
	assert.Equal(t, "task:task-1", TaskKey("task-1"))
}

func TestMemoryQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	require.NoError(t, b.Enqueue(ctx, "q", []byte("one")))
	require.NoError(t, b.Enqueue(ctx, "q", []byte("two")))
	assert.Equal(t, 2, b.Len("q"))

	first, err := b.Dequeue(ctx, "q", time.Millisecond)
	require.NoError(t, err)
	second, err := b.Dequeue(ctx, "q", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))
	assert.Equal(t, "two", string(second))
}

func TestMemoryDequeueTimesOut(t *testing.T) {
	b := NewMemoryBroker()
	start := time.Now()
	_, err := b.Dequeue(context.Background(), "empty", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryDequeueWakesOnEnqueue(t *testing.T) {
	b := NewMemoryBroker()
	var wg sync.WaitGroup
	var got []byte
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err = b.Dequeue(context.Background(), "q", 2*time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Enqueue(context.Background(), "q", []byte("late")))
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "late", string(got))
}

func TestMemoryDequeueHonoursContext(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Dequeue(ctx, "q", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryResultExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	b := NewMemoryBroker()
	b.SetClock(func() time.Time { return now })

	require.NoError(t, b.PutResult(ctx, "result:t:a", []byte("v"), 5*time.Second))
	got, err := b.GetResult(ctx, "result:t:a")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	now = now.Add(5 * time.Second)
	_, err = b.GetResult(ctx, "result:t:a")
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestMemoryClaim(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	ok, err := b.Claim(ctx, "task:1", []byte("x"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Claim(ctx, "task:1", []byte("y"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryUnavailable(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	b.SetUnavailable(true)
	assert.ErrorIs(t, b.Enqueue(ctx, "q", []byte("x")), ErrUnavailable)
	_, err := b.GetResult(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	b.SetUnavailable(false)
	require.NoError(t, b.Close())
	_, err = b.Dequeue(ctx, "q", time.Millisecond)
	assert.ErrorIs(t, err, ErrUnavailable)
}
