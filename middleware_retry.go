package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPacingConfig controls the exponential backoff applied between
// retryable attempts of one request.
type RetryPacingConfig struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the delay growth.
	MaxInterval time.Duration

	// StaleAfter bounds how long backoff state for a request that never
	// retries is kept before it is evicted.
	StaleAfter time.Duration
}

// DefaultRetryPacingConfig returns the standard pacing parameters.
func DefaultRetryPacingConfig() RetryPacingConfig {
	return RetryPacingConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		StaleAfter:      time.Minute,
	}
}

type pacingState struct {
	backoff *backoff.ExponentialBackOff
	touched time.Time
}

// RetryPacingMiddleware paces the executor's retry loop. The executor
// retries by count with no delay of its own; this middleware tracks each
// request's retryable outcomes (a terminal error or a retryable error
// result) and, when the same request comes around again, sleeps the next
// exponential-backoff interval before invoking the rest of the chain, so
// the following attempt starts after the delay.
//
// Backoff state is keyed by request ID and dropped on the first
// non-retryable outcome, when the backoff signals stop, or after
// StaleAfter for requests that never retry. The pre-attempt sleep observes
// context cancellation and returns the context error without running the
// attempt.
func RetryPacingMiddleware(cfg RetryPacingConfig) Middleware {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Minute
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]*pacingState)
	)

	evictStale := func(now time.Time) {
		for id, st := range pending {
			if now.Sub(st.touched) > cfg.StaleAfter {
				delete(pending, id)
			}
		}
	}

	// delayFor returns the next backoff interval when prior retryable
	// outcomes exist for the request, or (0, false) on a fresh request.
	delayFor := func(requestID string) (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		evictStale(now)

		st, ok := pending[requestID]
		if !ok {
			return 0, false
		}
		st.touched = now

		d := st.backoff.NextBackOff()
		if d == backoff.Stop {
			delete(pending, requestID)
			return 0, false
		}
		return d, true
	}

	record := func(requestID string) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		evictStale(now)

		if st, ok := pending[requestID]; ok {
			st.touched = now
			return
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialInterval
		b.MaxInterval = cfg.MaxInterval
		pending[requestID] = &pacingState{backoff: b, touched: now}
	}

	settle := func(requestID string) {
		mu.Lock()
		delete(pending, requestID)
		mu.Unlock()
	}

	return func(ctx context.Context, op *ServiceOp, next NextFunc) (*ServiceResult, error) {
		requestID := op.Call.RequestID

		if sleep, paced := delayFor(requestID); paced {
			timer := time.NewTimer(sleep)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				settle(requestID)
				return nil, ctx.Err()
			}
		}

		res, err := next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				settle(requestID)
				return res, err
			}
			// The executor turns this into a retryable error while the
			// attempt budget lasts; pace the next attempt.
			record(requestID)
			return res, err
		}

		if res.Status == StatusError && res.Error != nil && res.Error.Retryable {
			record(requestID)
			return res, nil
		}

		settle(requestID)
		return res, nil
	}
}
