package dispatch

import "context"

// ServiceOp is an inert descriptor of the operation being executed,
// handed to every middleware in the chain.
type ServiceOp struct {
	ServiceKey string
	OpName     string
	Call       ServiceCall
}

// NextFunc advances the chain toward the terminal operation.
type NextFunc func(ctx context.Context) (*ServiceResult, error)

// Middleware wraps a service operation. A middleware must either call
// next exactly once and return its (possibly transformed) result, or
// synthesize a result without calling next. Calling next twice is
// undefined behavior.
//
// Cancellation propagates through the chain via ctx; a middleware must
// treat cancellation as "operation did not complete" and skip any
// result-caching side effect.
type Middleware func(ctx context.Context, op *ServiceOp, next NextFunc) (*ServiceResult, error)

// MiddlewareChain composes middlewares around a terminal operation,
// onion-style: middlewares run in insertion order, each wrapping
// everything that follows.
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewMiddlewareChain creates a chain with the given middlewares.
func NewMiddlewareChain(mws ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{middlewares: mws}
}

// Use appends a middleware to the chain.
func (c *MiddlewareChain) Use(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Len returns the number of middlewares in the chain.
func (c *MiddlewareChain) Len() int {
	return len(c.middlewares)
}

// Run executes the chain around the terminal operation.
func (c *MiddlewareChain) Run(ctx context.Context, op *ServiceOp, terminal NextFunc) (*ServiceResult, error) {
	var callAt func(ctx context.Context, i int) (*ServiceResult, error)
	callAt = func(ctx context.Context, i int) (*ServiceResult, error) {
		if i >= len(c.middlewares) {
			return terminal(ctx)
		}
		mw := c.middlewares[i]
		return mw(ctx, op, func(ctx context.Context) (*ServiceResult, error) {
			return callAt(ctx, i+1)
		})
	}
	return callAt(ctx, 0)
}
