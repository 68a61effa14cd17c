package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"chartermap/internal/components/assert"
	"chartermap/internal/components/telemetry"
	"chartermap/lib/osutil"

	"golang.org/x/sync/errgroup"
)

const (
	report_pool_resolve = "worker.resolve"
	report_pool_panic   = "worker.panic"
)

type Options struct {
	// Concurrency is the number of worker loops, it is also the ceiling of
	// resolver calls in flight.
	Concurrency int
	// Pause is the wait after each item a worker handles, it throttles the
	// rate at which the upstream sees requests.
	Pause time.Duration
}

func DefaultOptions() Options {
	return Options{
		Concurrency: 8,
		Pause:       40 * time.Millisecond,
	}
}

// ResolveFunc resolves one item, ok=false means there is nothing to keep.
type ResolveFunc[T, R any] func(ctx context.Context, item T) (result R, ok bool, err error)

type Result[R any] struct {
	Values []R
	// Failed counts items whose resolver returned an error or panicked.
	Failed int
	// Unclaimed counts items no worker picked up because ctx ended.
	Unclaimed int
}

// Run resolves every item with a fixed number of workers, each claiming the
// next unclaimed index. A failing item is reported and skipped, it never
// stops the other workers. Once ctx is done no new item is claimed and the
// values collected so far are returned. The order of Values is unspecified.
func Run[T, R any](ctx context.Context, items []T, resolve ResolveFunc[T, R], opts Options, tel telemetry.API) Result[R] {
	assert.NotNil(tel, "tel")
	assert.Positive(opts.Concurrency, "concurrency")

	tel = telemetry.NewScopedAPI("pool", tel)

	workers := opts.Concurrency
	if workers > len(items) {
		workers = len(items)
	}

	var next atomic.Int64
	var failed atomic.Int64
	var processed atomic.Int64
	// each worker appends only to its own slot, the slots are joined after Wait
	perWorker := make([][]R, workers)

	var group errgroup.Group
	for w := 0; w < workers; w++ {
		group.Go(func() error {
			for ctx.Err() == nil {
				idx := next.Add(1) - 1
				if idx >= int64(len(items)) {
					return nil
				}
				item := items[idx]

				value, ok, err := call(ctx, resolve, item)
				processed.Add(1)
				if err != nil {
					failed.Add(1)
					tel.ReportWarning(report_pool_resolve, fmt.Sprint(item), err)
				} else if ok {
					perWorker[w] = append(perWorker[w], value)
				}

				if !osutil.Sleep(ctx, opts.Pause) {
					return nil
				}
			}
			return nil
		})
	}
	group.Wait()

	total := 0
	for _, values := range perWorker {
		total += len(values)
	}
	out := make([]R, 0, total)
	for _, values := range perWorker {
		out = append(out, values...)
	}

	return Result[R]{
		Values:    out,
		Failed:    int(failed.Load()),
		Unclaimed: len(items) - int(processed.Load()),
	}
}

func call[T, R any](ctx context.Context, resolve ResolveFunc[T, R], item T) (value R, ok bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: %v", report_pool_panic, recovered)
		}
	}()
	return resolve(ctx, item)
}
