package dispatch

import (
	"fmt"
	"sync"
)

// ModuleHandle records everything a module attached for one tenant so it
// can be detached cleanly: bus subscriptions, registered provider names,
// and bound service keys. Handles are plain values, never back-references
// into the bus or registry.
type ModuleHandle struct {
	ModuleKey string
	TenantID  TenantID

	// Subscriptions the module registered (with assigned handler IDs).
	Subscriptions []Subscription

	// ProviderNames the module registered in the registry.
	ProviderNames []string

	// ServiceKeys the module bound for the tenant.
	ServiceKeys []string
}

// CoreModule is a bundle of providers, subscriptions, and service bindings
// that can be attached to a tenant at runtime.
//
// Attach must register every resource it consumes through the provided
// core and record it in the returned handle. Detach must undo every
// recorded effect; the manager additionally replays the handle's records
// against the core afterwards, so a module that misses a resource does
// not leak it.
type CoreModule interface {
	// ModuleKey returns the stable identity the module is registered under.
	ModuleKey() string

	// Attach wires the module into the core for one tenant. The cfg blob
	// schema is the module's concern; the core passes it through unmodified.
	Attach(app *CoreApp, tenantID TenantID, cfg map[string]any) (*ModuleHandle, error)

	// Detach removes the module's effects recorded in the handle.
	Detach(app *CoreApp, handle *ModuleHandle) error
}

// ModuleManager associates modules with tenants and tears them down
// cleanly. It keeps an in-memory module catalog and a handle per
// (tenant, module) attachment.
type ModuleManager struct {
	app    *CoreApp
	logger Logger

	mu      sync.Mutex
	modules map[string]CoreModule

	// handles: tenant -> module_key -> handle
	handles map[TenantID]map[string]*ModuleHandle
}

// NewModuleManager creates a manager bound to the core app.
func NewModuleManager(app *CoreApp) *ModuleManager {
	return &ModuleManager{
		app:     app,
		logger:  app.Logger(),
		modules: make(map[string]CoreModule),
		handles: make(map[TenantID]map[string]*ModuleHandle),
	}
}

// Register adds a module to the catalog by its module key.
func (m *ModuleManager) Register(module CoreModule) error {
	key := module.ModuleKey()
	if key == "" {
		return ErrModuleKeyEmpty
	}

	m.mu.Lock()
	m.modules[key] = module
	m.mu.Unlock()

	m.logger.Debug("Registered module", "module", key)
	return nil
}

// Attach resolves the module and attaches it to the tenant, indexing the
// returned handle for later detach.
func (m *ModuleManager) Attach(tenantID TenantID, moduleKey string, cfg map[string]any) error {
	m.mu.Lock()
	module, ok := m.modules[moduleKey]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrModuleNotRegistered, moduleKey)
	}

	handle, err := module.Attach(m.app, tenantID, cfg)
	if err != nil {
		return fmt.Errorf("%w: module %q, tenant %q: %w", ErrModuleAttachFailed, moduleKey, tenantID, err)
	}
	if handle == nil {
		handle = &ModuleHandle{ModuleKey: moduleKey, TenantID: tenantID}
	}

	m.mu.Lock()
	tenantHandles, ok := m.handles[tenantID]
	if !ok {
		tenantHandles = make(map[string]*ModuleHandle)
		m.handles[tenantID] = tenantHandles
	}
	tenantHandles[moduleKey] = handle
	m.mu.Unlock()

	m.logger.Info("Module attached", "module", moduleKey, "tenant", tenantID)
	return nil
}

// Detach removes the module's effects for the tenant. Missing handles are
// tolerated as a no-op.
//
// After the module's own Detach, the manager replays the handle against
// the core: every recorded subscription is unsubscribed, every recorded
// provider deregistered, and every recorded binding removed. This keeps
// detach complete even for modules that forget part of their cleanup.
func (m *ModuleManager) Detach(tenantID TenantID, moduleKey string) error {
	m.mu.Lock()
	handle := m.handles[tenantID][moduleKey]
	module := m.modules[moduleKey]
	m.mu.Unlock()

	if handle == nil {
		return nil
	}

	var detachErr error
	if module != nil {
		if err := module.Detach(m.app, handle); err != nil {
			detachErr = fmt.Errorf("%w: module %q, tenant %q: %w", ErrModuleDetachFailed, moduleKey, tenantID, err)
		}
	}

	for _, sub := range handle.Subscriptions {
		m.app.Bus().Unsubscribe(sub.Name, sub.HandlerID)
	}
	for _, name := range handle.ProviderNames {
		m.app.Registry().DeregisterProvider(name)
	}
	for _, key := range handle.ServiceKeys {
		m.app.Registry().RemoveTenantBinding(tenantID, key)
	}

	m.mu.Lock()
	if tenantHandles, ok := m.handles[tenantID]; ok {
		delete(tenantHandles, moduleKey)
		if len(tenantHandles) == 0 {
			delete(m.handles, tenantID)
		}
	}
	m.mu.Unlock()

	m.logger.Info("Module detached", "module", moduleKey, "tenant", tenantID)
	return detachErr
}

// Attached reports whether the module is currently attached to the tenant.
func (m *ModuleManager) Attached(tenantID TenantID, moduleKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[tenantID][moduleKey]
	return ok
}

// AttachedModules returns the module keys currently attached to the tenant.
func (m *ModuleManager) AttachedModules(tenantID TenantID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.handles[tenantID]))
	for key := range m.handles[tenantID] {
		keys = append(keys, key)
	}
	return keys
}

// Refresh reconciles the tenant's attachments against the desired set
// (module_key -> cfg): modules absent from desired are detached; every
// desired module present in the catalog is detached and reattached.
// Unconditional reattach is a conservative strategy; hashing cfg to skip
// unchanged modules would avoid the churn.
func (m *ModuleManager) Refresh(tenantID TenantID, desired map[string]map[string]any) error {
	for _, key := range m.AttachedModules(tenantID) {
		if _, wanted := desired[key]; !wanted {
			if err := m.Detach(tenantID, key); err != nil {
				return err
			}
		}
	}

	for key, cfg := range desired {
		m.mu.Lock()
		_, known := m.modules[key]
		m.mu.Unlock()
		if !known {
			m.logger.Warn("Skipping unknown module in desired set", "module", key, "tenant", tenantID)
			continue
		}

		if m.Attached(tenantID, key) {
			if err := m.Detach(tenantID, key); err != nil {
				return err
			}
		}
		if err := m.Attach(tenantID, key, cfg); err != nil {
			return err
		}
	}
	return nil
}
