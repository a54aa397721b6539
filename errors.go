package dispatch

import (
	"errors"
)

// Runtime errors
var (
	// Registry errors
	ErrServiceNotConfigured = errors.New("service not configured for tenant")
	ErrServiceNotRegistered = errors.New("provider not registered")

	// Event bus errors
	ErrHandlerFailed = errors.New("event handler failed")

	// Service call errors
	ErrInvalidTimeout     = errors.New("call timeout must be positive")
	ErrInvalidMaxAttempts = errors.New("call max attempts must be at least 1")
	ErrTerminalNil        = errors.New("terminal operation cannot be nil")

	// Module errors
	ErrModuleNotRegistered = errors.New("module not registered")
	ErrModuleKeyEmpty      = errors.New("module key cannot be empty")
	ErrModuleAttachFailed  = errors.New("module attach failed")
	ErrModuleDetachFailed  = errors.New("module detach failed")

	// Tenant config errors
	ErrTenantConfigNotFound = errors.New("tenant config not found")
	ErrTenantConfigInvalid  = errors.New("tenant config invalid")
	ErrUnsupportedConfigExt = errors.New("unsupported tenant config file extension")

	// Deferred errors
	ErrTicketEmpty = errors.New("ticket id cannot be empty")
	ErrResultNil   = errors.New("service result cannot be nil")
)

// Stable machine-readable error codes surfaced in ServiceResult.Error.Code.
// Downstream consumers branch on these strings; they are part of the
// public contract and must not change.
const (
	ErrorCodeTimeout    = "timeout"
	ErrorCodeException  = "exception"
	ErrorCodeInProgress = "in_progress"

	// Provider-defined codes used by the bundled texttemplates provider.
	ErrorCodeTemplateNotFound = "template_not_found"
	ErrorCodeRenderFailed     = "render_failed"
)
