package dispatch

import (
	"fmt"
	"sync"
)

// ServiceBinding maps a service key to a provider instance name for one
// tenant, e.g. TextComposer -> "templates_v1".
type ServiceBinding struct {
	Provider string
}

// ServiceRegistry holds two disjoint maps: provider instances by name, and
// per-tenant binding maps. The core does not assume where binding config
// comes from; modules and the config manager mutate it at runtime.
//
// SetTenantBindings replaces a tenant's map atomically: a concurrent
// Resolve observes either the prior map or the new one, never a mix.
type ServiceRegistry struct {
	mu sync.RWMutex

	// providers: provider_name -> provider instance (opaque to the core)
	providers map[string]any

	// bindings: tenant -> service_key -> binding
	bindings map[TenantID]map[string]ServiceBinding

	logger Logger
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry(logger Logger) *ServiceRegistry {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &ServiceRegistry{
		providers: make(map[string]any),
		bindings:  make(map[TenantID]map[string]ServiceBinding),
		logger:    logger,
	}
}

// RegisterProvider registers a provider instance by name, overwriting any
// previous registration under that name.
func (r *ServiceRegistry) RegisterProvider(name string, provider any) {
	r.mu.Lock()
	r.providers[name] = provider
	r.mu.Unlock()

	r.logger.Debug("Registered provider", "provider", name)
}

// DeregisterProvider removes a provider registration. No-op if absent.
func (r *ServiceRegistry) DeregisterProvider(name string) {
	r.mu.Lock()
	delete(r.providers, name)
	r.mu.Unlock()

	r.logger.Debug("Deregistered provider", "provider", name)
}

// SetTenantBindings atomically replaces the tenant's binding map.
func (r *ServiceRegistry) SetTenantBindings(tenantID TenantID, bindings map[string]ServiceBinding) {
	copied := make(map[string]ServiceBinding, len(bindings))
	for k, v := range bindings {
		copied[k] = v
	}

	r.mu.Lock()
	r.bindings[tenantID] = copied
	r.mu.Unlock()

	r.logger.Debug("Set tenant bindings", "tenant", tenantID, "count", len(copied))
}

// SetTenantBinding upserts a single binding into the tenant's map,
// creating the map if the tenant has none. Used by modules that bind the
// service key they provide on attach.
func (r *ServiceRegistry) SetTenantBinding(tenantID TenantID, serviceKey string, binding ServiceBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenantMap, ok := r.bindings[tenantID]
	if !ok {
		tenantMap = make(map[string]ServiceBinding)
		r.bindings[tenantID] = tenantMap
	}
	tenantMap[serviceKey] = binding
}

// RemoveTenantBinding deletes a single binding from the tenant's map.
// Used by module detach cleanup. No-op if absent.
func (r *ServiceRegistry) RemoveTenantBinding(tenantID TenantID, serviceKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenantMap, ok := r.bindings[tenantID]
	if !ok {
		return
	}
	delete(tenantMap, serviceKey)
	if len(tenantMap) == 0 {
		delete(r.bindings, tenantID)
	}
}

// TenantBinding returns the binding for (tenant, service key), if any.
func (r *ServiceRegistry) TenantBinding(tenantID TenantID, serviceKey string) (ServiceBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.bindings[tenantID][serviceKey]
	return binding, ok
}

// Resolve returns the provider bound to (tenant, service key).
//
// Fails with ErrServiceNotConfigured when the tenant has no map or no
// entry for the key, and with ErrServiceNotRegistered when the binding
// names a provider absent from the provider map. Both represent
// misconfiguration and are raised to the caller rather than wrapped into
// a ServiceResult.
func (r *ServiceRegistry) Resolve(tenantID TenantID, serviceKey string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenantMap, ok := r.bindings[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: service %q, tenant %q", ErrServiceNotConfigured, serviceKey, tenantID)
	}
	binding, ok := tenantMap[serviceKey]
	if !ok {
		return nil, fmt.Errorf("%w: service %q, tenant %q", ErrServiceNotConfigured, serviceKey, tenantID)
	}

	provider, ok := r.providers[binding.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", ErrServiceNotRegistered, binding.Provider)
	}
	return provider, nil
}

// ResolveAs resolves a provider and asserts it implements P.
func ResolveAs[P any](r *ServiceRegistry, tenantID TenantID, serviceKey string) (P, error) {
	var zero P

	provider, err := r.Resolve(tenantID, serviceKey)
	if err != nil {
		return zero, err
	}

	typed, ok := provider.(P)
	if !ok {
		return zero, fmt.Errorf("%w: provider for %q does not implement %T", ErrServiceNotRegistered, serviceKey, zero)
	}
	return typed, nil
}
