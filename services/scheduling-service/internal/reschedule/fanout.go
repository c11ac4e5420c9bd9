package reschedule

import (
	"context"
	"sync"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// branch carries one worker's independent outcome from a fan-out. A failed
// branch never aborts its siblings; callers decide how to treat partial
// failure.
type branch[T any] struct {
	Worker model.Worker
	Value  T
	Err    error
}

// fanOut runs fn once per worker with at most limit goroutines in flight and
// returns the branches in the input order.
func fanOut[T any](ctx context.Context, workers []model.Worker, limit int, fn func(context.Context, model.Worker) (T, error)) []branch[T] {
	if limit <= 0 {
		limit = defaultFanOutLimit
	}

	results := make([]branch[T], len(workers))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, w := range workers {
		wg.Add(1)
		go func(i int, w model.Worker) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			value, err := fn(ctx, w)
			results[i] = branch[T]{Worker: w, Value: value, Err: err}
		}(i, w)
	}
	wg.Wait()
	return results
}

const defaultFanOutLimit = 8
