package dispatch

import (
	"context"
	"errors"
	"time"
)

// DefaultDeferredTTL bounds how long a pending deferred ticket is tracked
// when the executor is not configured otherwise.
const DefaultDeferredTTL = time.Hour

// ServiceExecutor is the single call site through which all service
// operations pass. It imposes a per-attempt wall-clock deadline, retries
// retryable failures within the call's attempt budget, wraps the terminal
// operation in the middleware chain, emits a lifecycle event per attempt,
// and registers pending tickets for deferred results.
//
// Retry is budgeted by count only; pacing between attempts belongs to
// middleware (see RetryPacingMiddleware). The executor never mutates a
// result's meta: providers populate provider name, timing, and attempt.
type ServiceExecutor struct {
	bus      *EventBus
	registry *ServiceRegistry
	chain    *MiddlewareChain
	deferred DeferredStore
	logger   Logger

	deferredTTL time.Duration
}

// ExecutorOption configures a ServiceExecutor.
type ExecutorOption func(*ServiceExecutor)

// WithMiddlewareChain wraps every terminal operation in the given chain.
func WithMiddlewareChain(chain *MiddlewareChain) ExecutorOption {
	return func(e *ServiceExecutor) { e.chain = chain }
}

// WithDeferredStore enables deferred ticket tracking.
func WithDeferredStore(store DeferredStore) ExecutorOption {
	return func(e *ServiceExecutor) { e.deferred = store }
}

// WithDeferredTTL overrides the pending-ticket TTL.
func WithDeferredTTL(ttl time.Duration) ExecutorOption {
	return func(e *ServiceExecutor) { e.deferredTTL = ttl }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger Logger) ExecutorOption {
	return func(e *ServiceExecutor) { e.logger = logger }
}

// NewServiceExecutor creates an executor bound to a bus and registry.
func NewServiceExecutor(bus *EventBus, registry *ServiceRegistry, opts ...ExecutorOption) *ServiceExecutor {
	e := &ServiceExecutor{
		bus:         bus,
		registry:    registry,
		logger:      NoopLogger{},
		deferredTTL: DefaultDeferredTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor resolves providers from.
func (e *ServiceExecutor) Registry() *ServiceRegistry {
	return e.registry
}

type attemptOutcome struct {
	res *ServiceResult
	err error
}

// Call executes a service operation.
//
// The terminal fn produces the provider result; fn failures become
// error/exception results, deadline expiry becomes error/timeout, both
// retryable while attempts remain. On a normal return the per-attempt
// lifecycle event service.{op}.{status} is published and the result
// returned as-is.
//
// Cancellation of the parent context is not reported as an error result:
// Call returns (nil, ctx.Err()) and the in-flight attempt is discarded.
func (e *ServiceExecutor) Call(ctx context.Context, serviceKey string, call ServiceCall, opName string, fn NextFunc) (*ServiceResult, error) {
	if fn == nil {
		return nil, ErrTerminalNil
	}
	if call.TimeoutMS <= 0 {
		return nil, ErrInvalidTimeout
	}

	started := NowMillis()
	attempts := call.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastError *ServiceResult

	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := e.runAttempt(ctx, serviceKey, call, opName, fn)

		if err == nil && res != nil {
			if res.Status == StatusDeferred && res.TicketID != "" && e.deferred != nil {
				if derr := e.deferred.PutPending(ctx, res.TicketID, e.deferredTTL); derr != nil {
					e.logger.Error("Failed to register pending ticket", "ticket", res.TicketID, "error", derr)
				}
			}

			e.publishServiceEvent(ctx, call, ServiceEventName(opName, string(res.Status)), map[string]any{
				"service_key": serviceKey,
				"attempt":     attempt,
				"provider":    res.Meta.ProviderName,
				"ticket_id":   res.TicketID,
			}, res.TicketID)
			return res, nil
		}

		// Parent cancellation aborts the call without a result.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		meta := ResultMeta{
			RequestID:      call.RequestID,
			TenantID:       call.TenantID,
			TraceID:        call.TraceID,
			StartedAt:      started,
			FinishedAt:     NowMillis(),
			Attempt:        attempt,
			IdempotencyKey: call.IdempotencyKey,
			Tags:           call.Tags,
		}

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			lastError = ErrorResult(meta, ErrorInfo{
				Code:      ErrorCodeTimeout,
				Message:   "Service timeout",
				Retryable: attempt < attempts,
			})
		case err != nil:
			lastError = ErrorResult(meta, ErrorInfo{
				Code:      ErrorCodeException,
				Message:   err.Error(),
				Retryable: attempt < attempts,
			})
		default:
			// Terminal returned neither result nor error.
			lastError = ErrorResult(meta, ErrorInfo{
				Code:      ErrorCodeException,
				Message:   "terminal returned no result",
				Retryable: attempt < attempts,
			})
		}

		e.publishServiceEvent(ctx, call, ServiceEventName(opName, ServiceEventError), map[string]any{
			"service_key": serviceKey,
			"attempt":     attempt,
			"provider":    nil,
			"error_code":  lastError.Error.Code,
		}, "")

		if !lastError.Error.Retryable {
			break
		}
	}

	return lastError, nil
}

// runAttempt runs one attempt of the composed operation under the call's
// deadline. The terminal runs in its own goroutine so the deadline holds
// even when the operation ignores cancellation; an abandoned goroutine's
// send still succeeds via the buffered channel.
func (e *ServiceExecutor) runAttempt(ctx context.Context, serviceKey string, call ServiceCall, opName string, fn NextFunc) (*ServiceResult, error) {
	op := &ServiceOp{ServiceKey: serviceKey, OpName: opName, Call: call}

	run := fn
	if e.chain != nil {
		run = func(ctx context.Context) (*ServiceResult, error) {
			return e.chain.Run(ctx, op, fn)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(call.TimeoutMS)*time.Millisecond)
	defer cancel()

	done := make(chan attemptOutcome, 1)
	go func() {
		res, err := run(attemptCtx)
		done <- attemptOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	}
}

// DeferredCompletion carries the final result of a deferred operation.
// Callers hold the TicketID from the initial deferred result.
type DeferredCompletion struct {
	TenantID  TenantID
	TraceID   string
	RequestID string
	OpName    string
	TicketID  string
	Result    *ServiceResult

	// TTL bounds how long the completed result is retained; zero means
	// the executor's deferred TTL.
	TTL time.Duration
}

// CompleteDeferred stores the final result for a deferred ticket and
// publishes service.{op}.completed.
func (e *ServiceExecutor) CompleteDeferred(ctx context.Context, dc DeferredCompletion) error {
	if dc.TicketID == "" {
		return ErrTicketEmpty
	}
	if dc.Result == nil {
		return ErrResultNil
	}

	ttl := dc.TTL
	if ttl <= 0 {
		ttl = e.deferredTTL
	}

	if e.deferred != nil {
		if err := e.deferred.Complete(ctx, dc.TicketID, dc.Result, ttl); err != nil {
			return err
		}
	}

	call := ServiceCall{TenantID: dc.TenantID, RequestID: dc.RequestID, TraceID: dc.TraceID}
	e.publishServiceEvent(ctx, call, ServiceEventName(dc.OpName, ServiceEventCompleted), map[string]any{
		"ticket_id": dc.TicketID,
		"status":    string(dc.Result.Status),
		"provider":  dc.Result.Meta.ProviderName,
	}, dc.TicketID)
	return nil
}

func (e *ServiceExecutor) publishServiceEvent(ctx context.Context, call ServiceCall, name string, payload map[string]any, ticketID string) {
	event := EventEnvelope{
		Name:       name,
		Kind:       EventKindService,
		TenantID:   call.TenantID,
		EventID:    NewID("evt"),
		TraceID:    call.TraceID,
		OccurredAt: NowMillis(),
		RequestID:  call.RequestID,
		TicketID:   ticketID,
		Payload:    payload,
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.logger.Error("Failed to publish service event", "event", name, "error", err)
	}
}
