package dispatch

import (
	"context"
	"fmt"
)

// TenantConfig is a tenant's full runtime configuration document:
// service bindings and the module set with per-module config blobs.
type TenantConfig struct {
	TenantID TenantID `json:"tenantId" yaml:"tenant_id" toml:"tenant_id"`
	Locale   string   `json:"locale" yaml:"locale" toml:"locale"`

	// Services maps service_key -> provider_name.
	Services map[string]string `json:"services" yaml:"services" toml:"services"`

	// Modules maps module_key -> opaque module config blob.
	Modules map[string]map[string]any `json:"modules" yaml:"modules" toml:"modules"`
}

// TenantConfigStore abstracts where tenant configs live (files, database,
// cache); the core does not assume a source.
type TenantConfigStore interface {
	GetTenantConfig(ctx context.Context, tenantID TenantID) (*TenantConfig, error)
}

// ApplyRequest identifies one configuration apply.
type ApplyRequest struct {
	TenantID  TenantID
	TraceID   string
	RequestID string

	// Services maps service_key -> provider_name.
	Services map[string]string

	// Modules maps module_key -> module config blob.
	Modules map[string]map[string]any
}

// ConfigManager applies tenant configuration at runtime, without restart.
type ConfigManager struct {
	app     *CoreApp
	modules *ModuleManager
	logger  Logger
}

// NewConfigManager creates a config manager over the core and its module
// manager.
func NewConfigManager(app *CoreApp, modules *ModuleManager) *ConfigManager {
	return &ConfigManager{
		app:     app,
		modules: modules,
		logger:  app.Logger(),
	}
}

// ApplyTenantConfig applies a tenant configuration in three steps:
// replace the tenant's binding map (atomic per tenant), refresh the module
// set, then publish config.tenant_updated.
//
// The three steps are not jointly atomic: a service call racing an apply
// may see ErrServiceNotConfigured or a stale provider and should retry at
// the transport layer.
func (cm *ConfigManager) ApplyTenantConfig(ctx context.Context, req ApplyRequest) error {
	bindings := make(map[string]ServiceBinding, len(req.Services))
	for key, provider := range req.Services {
		bindings[key] = ServiceBinding{Provider: provider}
	}
	cm.app.Registry().SetTenantBindings(req.TenantID, bindings)

	if err := cm.modules.Refresh(req.TenantID, req.Modules); err != nil {
		return fmt.Errorf("refreshing modules for tenant %q: %w", req.TenantID, err)
	}

	servicesSnapshot := make(map[string]any, len(req.Services))
	for key, provider := range req.Services {
		servicesSnapshot[key] = provider
	}
	modulesSnapshot := make(map[string]any, len(req.Modules))
	for key, cfg := range req.Modules {
		modulesSnapshot[key] = cfg
	}

	event := EventEnvelope{
		Name:       EventConfigTenantUpdated,
		Kind:       EventKindSystem,
		TenantID:   req.TenantID,
		EventID:    NewID("evt"),
		TraceID:    req.TraceID,
		OccurredAt: NowMillis(),
		RequestID:  req.RequestID,
		Payload: map[string]any{
			"services": servicesSnapshot,
			"modules":  modulesSnapshot,
		},
	}
	if err := cm.app.Bus().Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing %s: %w", EventConfigTenantUpdated, err)
	}

	cm.logger.Info("Tenant config applied",
		"tenant", req.TenantID,
		"services", len(req.Services),
		"modules", len(req.Modules),
	)
	return nil
}

// ApplyFromStore loads the tenant's config from the store and applies it
// with fresh trace/request identifiers.
func (cm *ConfigManager) ApplyFromStore(ctx context.Context, store TenantConfigStore, tenantID TenantID) error {
	cfg, err := store.GetTenantConfig(ctx, tenantID)
	if err != nil {
		return err
	}
	return cm.ApplyTenantConfig(ctx, ApplyRequest{
		TenantID:  tenantID,
		TraceID:   NewID("trc"),
		RequestID: NewID("req"),
		Services:  cfg.Services,
		Modules:   cfg.Modules,
	})
}
