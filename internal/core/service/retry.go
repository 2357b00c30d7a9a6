package service

import (
	"context"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// RetryOnConflict re-runs fn while it reports a version conflict, waiting
// backoff*attempt between tries. It is for callers that choose to retry; the
// engine never retries on its own. The last result is returned when attempts
// run out.
func RetryOnConflict(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) (domain.MutationResult, error)) (domain.MutationResult, error) {
	if attempts < 1 {
		attempts = 1
	}

	var res domain.MutationResult
	for attempt := 1; ; attempt++ {
		var err error
		res, err = fn(ctx)
		if err != nil || res.Outcome != domain.OutcomeConcurrentModification || attempt == attempts {
			return res, err
		}

		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, ctx.Err()
		case <-timer.C:
		}
	}
}
