package parallel

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelizeCoversEveryItemOnce(t *testing.T) {
	for _, items := range []int{0, 1, 7, 1000} {
		t.Run(fmt.Sprintf("items=%d", items), func(t *testing.T) {
			hits := make([]int32, items)
			Parallelize(items, func(start, end int) {
				for i := start; i < end; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})
			for i, h := range hits {
				assert.Equal(t, int32(1), h, "item %d", i)
			}
		})
	}
}

func TestParallelizeWithThresholdRunsSequentiallyBelowThreshold(t *testing.T) {
	var calls int32
	ParallelizeWithThreshold(10, 100, func(start, end int) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, int32(1), calls)
}

func TestForEach(t *testing.T) {
	out := make([]int, 20)
	err := ForEach(context.Background(), len(out), 3, func(_ context.Context, i int) error {
		out[i] = i * i
		return nil
	})
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}

func TestForEachReturnsFirstError(t *testing.T) {
	err := ForEach(context.Background(), 10, 2, func(_ context.Context, i int) error {
		if i == 4 {
			return fmt.Errorf("fold %d failed", i)
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fold 4 failed")
}

func TestForEachHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	err := ForEach(ctx, 10, 2, func(_ context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls)
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 4, Workers(4))
	assert.Positive(t, Workers(0))
	assert.Positive(t, Workers(-1))
}
