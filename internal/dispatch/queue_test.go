package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewQueue(NewRedisList(rdb, DefaultKey), logger), mr
}

func TestQueue_FIFO(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	// Tail insertion is visible in the raw list
	list, err := mr.List(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	posA, ok, err := q.PositionOf(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	posB, ok, err := q.PositionOf(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, posA)
	assert.Equal(t, 1, posB)

	for _, want := range []string{"a", "b", "c"} {
		id, ok, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, id)
	}

	_, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_PositionOf_Absent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func()
	}{
		{
			name:  "queue key does not exist",
			setup: func() {},
		},
		{
			name: "never enqueued",
			setup: func() {
				require.NoError(t, q.Enqueue(ctx, "other"))
			},
		},
		{
			name: "already dequeued",
			setup: func() {
				require.NoError(t, q.Enqueue(ctx, "target"))
				for {
					_, ok, err := q.Dequeue(ctx)
					require.NoError(t, err)
					if !ok {
						break
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			pos, ok, err := q.PositionOf(ctx, "target")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, 0, pos)
		})
	}
}

func TestQueue_RemoveAndSnapshot(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "a", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	n, err := q.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)

	length, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	n, err = q.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_StoreUnavailable(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	mr.Close()

	assert.Error(t, q.Enqueue(ctx, "a"))
	_, _, err := q.PositionOf(ctx, "a")
	assert.Error(t, err)
}
