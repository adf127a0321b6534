package completion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	q := newQueue()
	for i := range 3 {
		q.push(i)
	}
	for i := range 3 {
		item, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, i, item)
		q.done()
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestQueueJoinWaitsForDone(t *testing.T) {
	q := newQueue()
	require.NoError(t, q.join(context.Background()))

	q.push("a")
	joined := make(chan error, 1)
	go func() { joined <- q.join(context.Background()) }()

	_, ok := q.pop()
	require.True(t, ok)
	select {
	case <-joined:
		t.Fatal("join returned before the item was handled")
	case <-time.After(20 * time.Millisecond):
	}

	q.done()
	select {
	case err := <-joined:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("join did not return")
	}
}

func TestQueueJoinHonoursContext(t *testing.T) {
	q := newQueue()
	q.push("a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.join(ctx), context.DeadlineExceeded)
}
