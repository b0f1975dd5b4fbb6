package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/metric"
)

func TestCircularBuffer_FIFO(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	require.NoError(t, buf.Write("a"))
	require.NoError(t, buf.Write("b"))

	head, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", head)
	assert.Equal(t, 2, buf.Size(), "peek must not consume")

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "a", item)

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "b", item)

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Equal(t, int64(2), buf.Stats().Reads())
}

func TestCircularBuffer_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
		dropped  []int
	}{
		{"drop oldest", DropOldest, []int{2, 3}, []int{1}},
		{"drop newest", DropNewest, []int{1, 2}, []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer[int](2,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
			)
			require.NoError(t, err)

			for i := 1; i <= 3; i++ {
				require.NoError(t, buf.Write(i))
			}

			assert.Equal(t, tt.expected, buf.ReadBatch(10))
			assert.Equal(t, tt.dropped, dropped)
			assert.Equal(t, int64(1), buf.Stats().Drops())
			assert.Equal(t, int64(1), buf.Stats().Overflows())
		})
	}
}

func TestCircularBuffer_BlockUntilRead(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, buf.Write(2))
	}()

	time.Sleep(20 * time.Millisecond)
	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	wg.Wait()
	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, item)
}

func TestCircularBuffer_BlockHonoursContext(t *testing.T) {
	raw, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, raw.Write(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cb := raw.(*circularBuffer[int])
	err = cb.WriteWithContext(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, raw.Size())
}

func TestCircularBuffer_WriteAfterClose(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())

	err = buf.Write(1)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestCircularBuffer_ClearInvokesCallback(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](4, WithDropCallback[int](func(i int) { dropped = append(dropped, i) }))
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, buf.Write(i))
	}
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, []int{0, 1, 2}, dropped)
	assert.Equal(t, int64(3), buf.Stats().MaxSize())
}

func TestCircularBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "port-a"))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "port-a"))
	require.Error(t, err, "duplicate label must fail registration")
	assert.True(t, errors.IsTransient(err))
}

func TestParseOverflowPolicy(t *testing.T) {
	tests := []struct {
		in     string
		policy OverflowPolicy
		ok     bool
	}{
		{"", DropOldest, true},
		{"drop_newest", DropNewest, true},
		{"block", Block, true},
		{"bogus", DropOldest, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, ok := ParseOverflowPolicy(tt.in)
			assert.Equal(t, tt.policy, p)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.NotEqual(t, "Unknown", p.String())
			}
		})
	}
}
