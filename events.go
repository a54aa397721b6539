package dispatch

import "fmt"

// Event name constants for events emitted by the runtime itself.
// These names are a stable contract; downstream subscribers depend on them.
const (
	// EventConfigTenantUpdated is published after a tenant configuration
	// has been applied (bindings replaced, modules refreshed).
	EventConfigTenantUpdated = "config.tenant_updated"

	// EventSystemHandlerError is published when an isolated event handler
	// fails. Payload: failed_event, handler, error_type, error_message.
	EventSystemHandlerError = "system.handler_error"
)

// Service result statuses used in service lifecycle event names.
const (
	ServiceEventOK        = "ok"
	ServiceEventError     = "error"
	ServiceEventDeferred  = "deferred"
	ServiceEventPartial   = "partial"
	ServiceEventCompleted = "completed"
)

// ServiceEventName builds a service lifecycle event name,
// e.g. ServiceEventName("text_compose", "ok") -> "service.text_compose.ok".
func ServiceEventName(opName, status string) string {
	return fmt.Sprintf("service.%s.%s", opName, status)
}
