package service

import (
	"context"
	"sync"
	"sync/atomic"
)

// runWorkerPool calls fn for every item on at most slots goroutines. It
// returns the number of failed calls and whether ctx ended the run before
// every item was handed out.
func runWorkerPool[T any](ctx context.Context, slots int, items []T, fn func(context.Context, T) error) (int, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if slots <= 1 || len(items) <= 1 {
		failed := 0
		for _, item := range items {
			if ctx.Err() != nil {
				return failed, true
			}
			if fn(ctx, item) != nil {
				failed++
			}
		}
		return failed, false
	}

	tasks := make(chan T)
	var (
		wg      sync.WaitGroup
		failed  atomic.Int64
		aborted atomic.Bool
	)
	for i := 0; i < min(slots, len(items)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if ctx.Err() != nil {
					continue
				}
				if fn(ctx, item) != nil {
					failed.Add(1)
				}
			}
		}()
	}

	for _, item := range items {
		if ctx.Err() != nil {
			aborted.Store(true)
			break
		}
		tasks <- item
	}
	close(tasks)
	wg.Wait()
	return int(failed.Load()), aborted.Load()
}
