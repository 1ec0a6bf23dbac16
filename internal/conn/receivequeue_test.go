package conn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagi-server/pagi/internal/conn"
)

func TestReceiveQueue_PushPop(t *testing.T) {
	q := conn.NewReceiveQueue[int](4)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	assert.Equal(t, 2, q.Len())

	ctx := context.Background()
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestReceiveQueue_OverflowReturnsError(t *testing.T) {
	q := conn.NewReceiveQueue[int](2)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	assert.ErrorIs(t, q.Push(3), conn.ErrQueueOverflow)
}

func TestReceiveQueue_DefaultCapacityWhenNonPositive(t *testing.T) {
	q := conn.NewReceiveQueue[int](0)
	assert.Equal(t, 1000, q.Cap())
}

func TestReceiveQueue_PopBlocksUntilContextDone(t *testing.T) {
	q := conn.NewReceiveQueue[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
