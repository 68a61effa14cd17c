package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chartermap/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func ids(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestRunResolvesEveryItemOnce(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]int{}

	result := Run(context.Background(), ids(100), func(ctx context.Context, item int) (int, bool, error) {
		mu.Lock()
		seen[item]++
		mu.Unlock()
		return item * 2, true, nil
	}, Options{Concurrency: 8}, telemetry.NewRecorder())

	require.Len(t, result.Values, 100)
	require.Zero(t, result.Failed)
	require.Zero(t, result.Unclaimed)
	for i := 0; i < 100; i++ {
		require.Equal(t, 1, seen[i], "item %d", i)
	}

	sort.Ints(result.Values)
	require.Equal(t, 0, result.Values[0])
	require.Equal(t, 198, result.Values[99])
}

func TestRunBoundedConcurrency(t *testing.T) {
	const limit = 4
	var active atomic.Int32
	var peak atomic.Int32
	var violated atomic.Bool

	Run(context.Background(), ids(40), func(ctx context.Context, item int) (struct{}, bool, error) {
		n := active.Add(1)
		defer active.Add(-1)
		if n > limit {
			violated.Store(true)
		}
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return struct{}{}, true, nil
	}, Options{Concurrency: limit}, telemetry.NewRecorder())

	require.False(t, violated.Load(), "more than %d resolvers were in flight", limit)
	require.LessOrEqual(t, peak.Load(), int32(limit))
	require.Equal(t, int32(0), active.Load())
}

func TestRunSwallowsFailures(t *testing.T) {
	rec := telemetry.NewRecorder()
	result := Run(context.Background(), ids(10), func(ctx context.Context, item int) (int, bool, error) {
		switch {
		case item == 3:
			return 0, false, errors.New("upstream exploded")
		case item == 5:
			panic("resolver bug")
		case item%2 == 0:
			return item, false, nil
		}
		return item, true, nil
	}, Options{Concurrency: 3}, rec)

	sort.Ints(result.Values)
	require.Equal(t, []int{1, 7, 9}, result.Values)
	require.Equal(t, 2, result.Failed)
	require.Len(t, rec.Find("warning", report_pool_resolve), 2)
}

func TestRunStopsClaimingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	result := Run(ctx, ids(50), func(ctx context.Context, item int) (int, bool, error) {
		if calls.Add(1) == 4 {
			cancel()
		}
		return item, true, nil
	}, Options{Concurrency: 2, Pause: 10 * time.Millisecond}, telemetry.NewRecorder())

	require.Less(t, int(calls.Load()), 50)
	require.Equal(t, int(calls.Load()), len(result.Values))
	require.Equal(t, 50-int(calls.Load()), result.Unclaimed)
}

func TestRunNoItems(t *testing.T) {
	result := Run(context.Background(), []string{}, func(ctx context.Context, item string) (string, bool, error) {
		t.Fatal("resolver must not be called")
		return "", false, nil
	}, DefaultOptions(), telemetry.NewRecorder())
	require.Empty(t, result.Values)
}
