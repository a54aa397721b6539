package dispatch

// ResultStatus is the discriminator of a ServiceResult.
type ResultStatus string

const (
	// StatusOK means Data is present and Error is absent.
	StatusOK ResultStatus = "ok"

	// StatusError means Error is present and Data is absent.
	StatusError ResultStatus = "error"

	// StatusDeferred means TicketID is present; the final result is
	// delivered later via the deferred store and a *.completed event.
	StatusDeferred ResultStatus = "deferred"

	// StatusPartial means Data is present and further values may arrive
	// on Stream if the provider supports streaming.
	StatusPartial ResultStatus = "partial"
)

// ResultMeta describes the execution of a service call. Providers populate
// ProviderName and the timing fields; the executor never mutates meta.
// Never store secrets in Tags.
type ResultMeta struct {
	RequestID string   `json:"requestId"`
	TenantID  TenantID `json:"tenantId"`
	TraceID   string   `json:"traceId"`

	// StartedAt / FinishedAt are milliseconds since epoch.
	// FinishedAt is zero while the operation is in flight.
	StartedAt  int64 `json:"startedAtMs"`
	FinishedAt int64 `json:"finishedAtMs,omitempty"`

	ProviderName string `json:"providerName,omitempty"`

	// Attempt is 1-based.
	Attempt int `json:"attempt"`

	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`
}

// ErrorInfo describes a failed service operation.
type ErrorInfo struct {
	// Code is a stable machine code, e.g. "timeout" or "template_not_found".
	Code string `json:"code"`

	// Message is a safe human-readable message.
	Message string `json:"message"`

	// Retryable reports whether repeating the call may succeed.
	Retryable bool `json:"retryable"`

	// Details carries optional structured context for the failure.
	Details map[string]any `json:"details,omitempty"`
}

// ServiceResult is the uniform outcome of a service operation, a sum type
// over Status. See the Status* constants for the field invariants.
type ServiceResult struct {
	Status ResultStatus `json:"status"`
	Meta   ResultMeta   `json:"meta"`

	// Data is the operation payload for ok and partial results.
	Data any `json:"data,omitempty"`

	// Error is set for error results only.
	Error *ErrorInfo `json:"error,omitempty"`

	// Stream optionally delivers the remainder of a partial result.
	// The sequence is finite and non-restartable.
	Stream <-chan any `json:"-"`

	// TicketID references the deferred result for deferred status; the
	// runtime later emits a *.completed event for it.
	TicketID string `json:"ticketId,omitempty"`
}

// OKResult builds an ok result.
func OKResult(meta ResultMeta, data any) *ServiceResult {
	return &ServiceResult{Status: StatusOK, Meta: meta, Data: data}
}

// ErrorResult builds an error result.
func ErrorResult(meta ResultMeta, errInfo ErrorInfo) *ServiceResult {
	return &ServiceResult{Status: StatusError, Meta: meta, Error: &errInfo}
}

// DeferredResult builds a deferred result referencing a ticket.
func DeferredResult(meta ResultMeta, ticketID string) *ServiceResult {
	return &ServiceResult{Status: StatusDeferred, Meta: meta, TicketID: ticketID}
}

// PartialResult builds a partial result with an optional follow-up stream.
func PartialResult(meta ResultMeta, data any, stream <-chan any) *ServiceResult {
	return &ServiceResult{Status: StatusPartial, Meta: meta, Data: data, Stream: stream}
}
