package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retryableErrorTerminal() NextFunc {
	return func(ctx context.Context) (*ServiceResult, error) {
		meta := ResultMeta{RequestID: "req_1", TenantID: "tenant_a", TraceID: "trc_1", StartedAt: NowMillis(), Attempt: 1}
		return ErrorResult(meta, ErrorInfo{Code: ErrorCodeException, Message: "flaky", Retryable: true}), nil
	}
}

func pacingConfig(initial, max time.Duration) RetryPacingConfig {
	return RetryPacingConfig{InitialInterval: initial, MaxInterval: max, StaleAfter: time.Minute}
}

func TestRetryPacingDelaysExecutorRetries(t *testing.T) {
	chain := NewMiddlewareChain(RetryPacingMiddleware(pacingConfig(60*time.Millisecond, time.Second)))
	exec := NewServiceExecutor(NewEventBus(nil), NewServiceRegistry(nil), WithMiddlewareChain(chain))

	attempt := 0
	start := time.Now()
	res, err := exec.Call(context.Background(), ServiceKeyTextComposer, execCall(5*time.Second, 3), "text_compose",
		func(ctx context.Context) (*ServiceResult, error) {
			attempt++
			if attempt < 3 {
				return nil, errors.New("transient")
			}
			meta := ResultMeta{RequestID: "req_1", TenantID: "tenant_a", TraceID: "trc_1", StartedAt: NowMillis(), FinishedAt: NowMillis(), ProviderName: "p1", Attempt: attempt}
			return OKResult(meta, TextComposeOut{Text: "recovered"}), nil
		})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 3, attempt)
	// Two paced retries; jitter halves the intervals at worst.
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "retries must not start immediately")
}

func TestRetryPacingNoDelayOnFreshRequest(t *testing.T) {
	chain := NewMiddlewareChain(RetryPacingMiddleware(pacingConfig(time.Second, time.Second)))

	start := time.Now()
	res, err := chain.Run(context.Background(), opForTest(), okTerminal("fast"))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Less(t, elapsed, 200*time.Millisecond, "a request with no retry history is not paced")
}

func TestRetryPacingFirstFailureReturnsImmediately(t *testing.T) {
	chain := NewMiddlewareChain(RetryPacingMiddleware(pacingConfig(time.Second, time.Second)))

	start := time.Now()
	res, err := chain.Run(context.Background(), opForTest(), retryableErrorTerminal())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, StatusError, res.Status)
	assert.Less(t, elapsed, 200*time.Millisecond, "the failing attempt itself is not delayed; the next one is")
}

func TestRetryPacingPacesFollowingAttempt(t *testing.T) {
	chain := NewMiddlewareChain(RetryPacingMiddleware(pacingConfig(80*time.Millisecond, time.Second)))
	op := opForTest()

	_, err := chain.Run(context.Background(), op, retryableErrorTerminal())
	require.NoError(t, err)

	start := time.Now()
	_, err = chain.Run(context.Background(), op, okTerminal("after delay"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "the attempt after a retryable outcome is delayed")
}

func TestRetryPacingResetsAfterSettle(t *testing.T) {
	chain := NewMiddlewareChain(RetryPacingMiddleware(pacingConfig(time.Second, 2*time.Second)))
	op := opForTest()

	terminalErr := func(ctx context.Context) (*ServiceResult, error) {
		return nil, errors.New("boom")
	}
	_, err := chain.Run(context.Background(), op, terminalErr)
	require.Error(t, err)

	// Success on the paced attempt drops the state...
	_, err = chain.Run(context.Background(), op, okTerminal("done"))
	require.NoError(t, err)

	// ...so the next call for the same request is not paced.
	start := time.Now()
	_, err = chain.Run(context.Background(), op, okTerminal("again"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryPacingNonRetryableResultSettles(t *testing.T) {
	chain := NewMiddlewareChain(RetryPacingMiddleware(pacingConfig(time.Second, time.Second)))
	op := opForTest()

	_, err := chain.Run(context.Background(), op, retryableErrorTerminal())
	require.NoError(t, err)

	// A paced attempt ending non-retryable drops the state.
	fatal := func(ctx context.Context) (*ServiceResult, error) {
		meta := ResultMeta{RequestID: "req_1", TenantID: "tenant_a", TraceID: "trc_1", StartedAt: NowMillis(), Attempt: 1}
		return ErrorResult(meta, ErrorInfo{Code: ErrorCodeException, Message: "fatal", Retryable: false}), nil
	}
	_, err = chain.Run(context.Background(), op, fatal)
	require.NoError(t, err)

	start := time.Now()
	_, err = chain.Run(context.Background(), op, okTerminal("fresh"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryPacingStaleStateEvicted(t *testing.T) {
	cfg := RetryPacingConfig{
		InitialInterval: 2 * time.Second,
		MaxInterval:     2 * time.Second,
		StaleAfter:      20 * time.Millisecond,
	}
	chain := NewMiddlewareChain(RetryPacingMiddleware(cfg))
	op := opForTest()

	_, err := chain.Run(context.Background(), op, retryableErrorTerminal())
	require.NoError(t, err)

	// A request that never retries must not keep its backoff state forever.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	_, err = chain.Run(context.Background(), op, okTerminal("late comeback"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "stale backoff state was evicted, not applied")
}

func TestRetryPacingObservesCancellation(t *testing.T) {
	chain := NewMiddlewareChain(RetryPacingMiddleware(pacingConfig(5*time.Second, 5*time.Second)))
	op := opForTest()

	_, err := chain.Run(context.Background(), op, retryableErrorTerminal())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = chain.Run(ctx, op, okTerminal("never reached"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "a cancelled pre-attempt wait must not run the full interval")
}
