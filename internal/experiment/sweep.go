package experiment

import (
	"context"
	"fmt"
	"sync"
)

// Sweep evaluates every override set with at most parallelism concurrent
// executions. Results are index-aligned with overrides; a failed evaluation
// leaves a nil entry. Partial results are returned with the first error.
func (r *Runner) Sweep(ctx context.Context, overrides []map[string]float64, parallelism int) ([]*Result, error) {
	if len(overrides) == 0 {
		return nil, fmt.Errorf("no experiments provided")
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	// Limit parallelism
	semaphore := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	results := make([]*Result, len(overrides))
	errs := make([]error, len(overrides))

	for i, ov := range overrides {
		wg.Add(1)
		go func(idx int, ov map[string]float64) {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			defer func() { <-semaphore }()

			results[idx], errs[idx] = r.Run(ctx, ov)
		}(i, ov)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			// Return first error, but still return partial results
			return results, fmt.Errorf("experiment %d failed to evaluate: %w", i, err)
		}
	}
	return results, nil
}
