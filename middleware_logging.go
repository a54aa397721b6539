package dispatch

import "context"

// LoggingMiddleware logs the start and outcome of every operation passing
// through the chain, with duration and resolved provider.
func LoggingMiddleware(logger Logger) Middleware {
	if logger == nil {
		logger = NoopLogger{}
	}
	return func(ctx context.Context, op *ServiceOp, next NextFunc) (*ServiceResult, error) {
		started := NowMillis()
		logger.Debug("Operation start",
			"op", op.OpName,
			"service", op.ServiceKey,
			"tenant", op.Call.TenantID,
			"request", op.Call.RequestID,
		)

		res, err := next(ctx)

		elapsed := NowMillis() - started
		if err != nil {
			logger.Debug("Operation failed", "op", op.OpName, "durationMs", elapsed, "error", err)
			return res, err
		}
		logger.Debug("Operation end",
			"op", op.OpName,
			"status", res.Status,
			"durationMs", elapsed,
			"provider", res.Meta.ProviderName,
		)
		return res, nil
	}
}
