package texttemplates

import (
	"context"
	"fmt"
	"reflect"

	"github.com/golobby/cast"

	"github.com/GoCodeAlone/dispatch"
)

// ModuleKey is the stable identity this module registers under.
const ModuleKey = "text_templates"

// defaultEventPriority orders this module's lifecycle-log subscriptions
// ahead of the common default.
const defaultEventPriority = 50

// ModuleConfig is the typed view of the module's cfg blob:
//
//	provider_name: templates_v1
//	event_priority: 50
//	templates:
//	  hello: "Hello, {{.name}}!"
type ModuleConfig struct {
	ProviderName  string
	EventPriority int
	Templates     map[string]string
}

// ParseModuleConfig decodes the opaque cfg blob the core passes through.
// Scalar values may arrive as strings depending on the config source, so
// they are coerced with golobby/cast.
func ParseModuleConfig(cfg map[string]any) (ModuleConfig, error) {
	out := ModuleConfig{
		ProviderName:  DefaultProviderName,
		EventPriority: defaultEventPriority,
		Templates:     map[string]string{},
	}

	if raw, ok := cfg["provider_name"]; ok {
		name, err := blobString(raw)
		if err != nil {
			return out, fmt.Errorf("provider_name: %w", err)
		}
		out.ProviderName = name
	}

	if raw, ok := cfg["event_priority"]; ok {
		priority, err := blobInt(raw)
		if err != nil {
			return out, fmt.Errorf("event_priority: %w", err)
		}
		out.EventPriority = priority
	}

	if raw, ok := cfg["templates"]; ok {
		templates, err := blobStringMap(raw)
		if err != nil {
			return out, fmt.Errorf("templates: %w", err)
		}
		out.Templates = templates
	}

	return out, nil
}

func blobString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func blobInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		converted, err := cast.FromType(t, reflect.TypeOf(0))
		if err != nil {
			return 0, err
		}
		return converted.(int), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func blobStringMap(v any) (map[string]string, error) {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]string:
		for k, s := range t {
			out[k] = s
		}
	case map[string]any:
		for k, raw := range t {
			s, err := blobString(raw)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = s
		}
	default:
		return nil, fmt.Errorf("expected string map, got %T", v)
	}
	return out, nil
}

// Module attaches a TemplateComposer provider per tenant: it registers
// the provider instance, binds the TextComposer service key, and
// subscribes to the compose lifecycle events for diagnostic logging.
// Everything it wires is recorded in the handle for clean detach.
type Module struct{}

// NewModule creates the text templates module.
func NewModule() *Module {
	return &Module{}
}

// ModuleKey implements dispatch.CoreModule.
func (m *Module) ModuleKey() string {
	return ModuleKey
}

// Attach implements dispatch.CoreModule.
func (m *Module) Attach(app *dispatch.CoreApp, tenantID dispatch.TenantID, cfg map[string]any) (*dispatch.ModuleHandle, error) {
	typed, err := ParseModuleConfig(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := NewTemplateComposer(ComposerConfig{Templates: typed.Templates}, typed.ProviderName)
	if err != nil {
		return nil, err
	}

	handle := &dispatch.ModuleHandle{ModuleKey: ModuleKey, TenantID: tenantID}

	app.Registry().RegisterProvider(typed.ProviderName, provider)
	handle.ProviderNames = append(handle.ProviderNames, typed.ProviderName)

	app.Registry().SetTenantBinding(tenantID, dispatch.ServiceKeyTextComposer, dispatch.ServiceBinding{Provider: typed.ProviderName})
	handle.ServiceKeys = append(handle.ServiceKeys, dispatch.ServiceKeyTextComposer)

	logger := app.Logger()
	logEvent := func(_ context.Context, event dispatch.EventEnvelope) error {
		logger.Debug("Text compose lifecycle event", "event", event.Name, "tenant", event.TenantID, "payload", event.Payload)
		return nil
	}

	for _, name := range []string{
		dispatch.ServiceEventName("text_compose", dispatch.ServiceEventOK),
		dispatch.ServiceEventName("text_compose", dispatch.ServiceEventError),
	} {
		sub := app.Bus().Subscribe(dispatch.Subscription{
			Name:          name,
			Handler:       logEvent,
			Priority:      typed.EventPriority,
			IsolateErrors: true,
		})
		handle.Subscriptions = append(handle.Subscriptions, sub)
	}

	return handle, nil
}

// Detach implements dispatch.CoreModule. It undoes every recorded effect;
// the module manager replays the handle afterwards, so both sides of the
// contract hold even if one forgets.
func (m *Module) Detach(app *dispatch.CoreApp, handle *dispatch.ModuleHandle) error {
	for _, sub := range handle.Subscriptions {
		app.Bus().Unsubscribe(sub.Name, sub.HandlerID)
	}
	for _, name := range handle.ProviderNames {
		app.Registry().DeregisterProvider(name)
	}
	for _, key := range handle.ServiceKeys {
		app.Registry().RemoveTenantBinding(handle.TenantID, key)
	}
	return nil
}
