// Package dispatch provides a multi-tenant service dispatch runtime: a core
// that routes named service operations through per-tenant provider bindings,
// wraps each call in a composable middleware chain with timeouts, retries,
// idempotency and deferred-completion handling, and publishes lifecycle
// events on an in-process bus.
//
// Key concepts:
//   - TenantID: unique identifier for each tenant; all runtime state is
//     partitioned by it
//   - RuntimeContext: per-request identity (tenant, request, trace, timing)
//   - ServiceRegistry: per-tenant binding of service keys to providers
//   - ServiceExecutor: the single call site for service operations
//   - ModuleManager / ConfigManager: live tenant reconfiguration
package dispatch

import (
	"context"
	"time"
)

// TenantID represents a unique tenant identifier.
// Tenant IDs should be stable, unique strings that identify tenants
// throughout the application lifecycle, such as customer IDs, domain
// names, or UUIDs.
type TenantID string

// TenantContext carries tenant identification through the call chain.
// It extends context.Context so tenant-aware collaborators can recover
// the tenant from any context they are handed.
type TenantContext struct {
	context.Context
	tenantID TenantID
}

// NewTenantContext creates a context carrying the given tenant ID.
func NewTenantContext(ctx context.Context, tenantID TenantID) *TenantContext {
	return &TenantContext{
		Context:  ctx,
		tenantID: tenantID,
	}
}

// GetTenantID returns the tenant ID carried by the context.
func (tc *TenantContext) GetTenantID() TenantID {
	return tc.tenantID
}

// GetTenantIDFromContext attempts to extract a tenant ID from a context.
// Returns the tenant ID and true if the context is a TenantContext,
// or empty string and false otherwise.
func GetTenantIDFromContext(ctx context.Context) (TenantID, bool) {
	if tc, ok := ctx.(*TenantContext); ok {
		return tc.GetTenantID(), true
	}
	return "", false
}

// RuntimeContext captures the identity of one logical request flow:
// who it is for, how to correlate it, and when it began. Transports create
// one per inbound request and derive ServiceCalls from it.
type RuntimeContext struct {
	TenantID  TenantID
	RequestID string
	TraceID   string

	// StartedAt is the flow start in milliseconds since epoch.
	StartedAt int64

	Locale string

	// Tags carry arbitrary safe metadata. Never store secrets.
	Tags map[string]string
}

// NewRuntimeContext creates a runtime context with fresh request and trace
// identifiers for the given tenant.
func NewRuntimeContext(tenantID TenantID, locale string, tags map[string]string) RuntimeContext {
	if tags == nil {
		tags = map[string]string{}
	}
	return RuntimeContext{
		TenantID:  tenantID,
		RequestID: NewID("req"),
		TraceID:   NewID("trc"),
		StartedAt: NowMillis(),
		Locale:    locale,
		Tags:      tags,
	}
}

// CallOption customizes a ServiceCall derived from a RuntimeContext.
type CallOption func(*ServiceCall)

// WithTimeout sets the per-attempt wall-clock deadline.
func WithTimeout(d time.Duration) CallOption {
	return func(c *ServiceCall) { c.TimeoutMS = d.Milliseconds() }
}

// WithMaxAttempts sets the attempt budget for the call.
func WithMaxAttempts(n int) CallOption {
	return func(c *ServiceCall) { c.MaxAttempts = n }
}

// WithIdempotencyKey scopes the call to an idempotency coalescing contract.
func WithIdempotencyKey(key string) CallOption {
	return func(c *ServiceCall) { c.IdempotencyKey = key }
}

// ToServiceCall derives a service call from the runtime context with the
// default timeout and attempt budget, customized by the given options.
func (rc RuntimeContext) ToServiceCall(opts ...CallOption) ServiceCall {
	call := ServiceCall{
		TenantID:    rc.TenantID,
		RequestID:   rc.RequestID,
		TraceID:     rc.TraceID,
		TimeoutMS:   DefaultCallTimeoutMS,
		MaxAttempts: DefaultCallMaxAttempts,
		Tags:        rc.Tags,
	}
	for _, opt := range opts {
		opt(&call)
	}
	return call
}
