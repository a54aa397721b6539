package dispatch

import (
	"context"
	"reflect"
)

// Default call parameters applied by RuntimeContext.ToServiceCall.
const (
	DefaultCallTimeoutMS   = 3_000
	DefaultCallMaxAttempts = 2
)

// ServiceCall describes one dispatch through the executor: identity,
// deadline, attempt budget, and an optional idempotency contract.
//
// Invariants: TimeoutMS > 0 and MaxAttempts >= 1. Validate reports
// violations; the executor clamps MaxAttempts defensively.
type ServiceCall struct {
	TenantID  TenantID `json:"tenantId"`
	RequestID string   `json:"requestId"`
	TraceID   string   `json:"traceId"`

	// TimeoutMS is the per-attempt wall-clock deadline in milliseconds.
	TimeoutMS int64 `json:"timeoutMs"`

	// MaxAttempts is the total attempt budget, including the first.
	MaxAttempts int `json:"maxAttempts"`

	// IdempotencyKey, when set, scopes a coalescing contract: calls
	// sharing the key within the store TTL yield equal results.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// Tags carry arbitrary safe metadata. Never store secrets.
	Tags map[string]string `json:"tags,omitempty"`
}

// Validate checks the call invariants.
func (c ServiceCall) Validate() error {
	if c.TimeoutMS <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	return nil
}

// ServiceKeyFor returns the stable string identity of a capability
// interface: its declared type name. Callers that want to avoid coupling
// binding keys to Go type names should use the explicit ServiceKey*
// constants instead.
func ServiceKeyFor[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}

// Explicit service keys for the neutral capability set. These match the
// interface names so ServiceKeyFor and the constants agree.
const (
	ServiceKeyTextComposer       = "TextComposer"
	ServiceKeyIntentResolver     = "IntentResolver"
	ServiceKeyKnowledgeResponder = "KnowledgeResponder"
)

// --- Neutral capability contracts (no provider assumptions) ---

// TextComposeIn is the input of a text composition operation.
type TextComposeIn struct {
	Locale      string
	TemplateKey string
	Variables   map[string]any
}

// TextComposeOut is the output of a text composition operation.
type TextComposeOut struct {
	Text string

	// Format is "plain", "markdown", or "html"; the core passes it through.
	Format string
}

// TextComposer renders localized text from a template and variables.
type TextComposer interface {
	Compose(ctx context.Context, call ServiceCall, in TextComposeIn) (*ServiceResult, error)
}

// IntentResolveIn is the input of an intent resolution operation.
type IntentResolveIn struct {
	Text    string
	Locale  string
	Channel string
	Context map[string]any
}

// IntentResolveOut is the output of an intent resolution operation.
type IntentResolveOut struct {
	Intent     string
	Confidence float64
	Slots      map[string]any
}

// IntentResolver classifies free text into an intent with slots.
type IntentResolver interface {
	Resolve(ctx context.Context, call ServiceCall, in IntentResolveIn) (*ServiceResult, error)
}

// KnowledgeRespondIn is the input of a knowledge response operation.
type KnowledgeRespondIn struct {
	Question string
	Locale   string
	Context  map[string]any
}

// KnowledgeRespondOut is the output of a knowledge response operation.
// Sources hold ids/keys only, never document bodies.
type KnowledgeRespondOut struct {
	AnswerText string
	Sources    []string
}

// KnowledgeResponder answers a question from a knowledge source.
type KnowledgeResponder interface {
	Respond(ctx context.Context, call ServiceCall, in KnowledgeRespondIn) (*ServiceResult, error)
}
