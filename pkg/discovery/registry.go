// Package discovery maintains a tenant-keyed registry of live service
// endpoints, rebuilt from cluster watch state. The registry is the only
// source the reconciler and health monitor consult for endpoint data, so
// neither of them ever lists cluster objects for discovery purposes.
package discovery

import (
	"sort"
	"sync"
	"time"
)

// ServiceEndpoint is one reachable address of a tenant service. Endpoints are
// ephemeral: they are rebuilt from Service and Endpoints watch events and are
// never persisted independently of the cluster's own objects.
type ServiceEndpoint struct {
	Tenant    string
	Service   string
	Namespace string
	Address   string
	Port      int32
	Protocol  string
}

// Registry is a thread-safe map of tenant name to its current endpoint set.
// Writes come exclusively from the Watcher; all other components read.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string][]ServiceEndpoint
	updated   map[string]time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[string][]ServiceEndpoint),
		updated:   make(map[string]time.Time),
	}
}

// SetEndpoints replaces the endpoint set for a tenant. The slice is copied,
// so the caller may reuse it.
func (r *Registry) SetEndpoints(tenant string, endpoints []ServiceEndpoint) {
	eps := make([]ServiceEndpoint, len(endpoints))
	copy(eps, endpoints)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[tenant] = eps
	r.updated[tenant] = time.Now()
}

// GetTenantEndpoints returns a copy of all endpoints for a tenant. It never
// blocks on the network; an unknown tenant yields an empty slice.
func (r *Registry) GetTenantEndpoints(tenant string) []ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eps := r.endpoints[tenant]
	result := make([]ServiceEndpoint, len(eps))
	copy(result, eps)
	return result
}

// GetServiceEndpoints returns the endpoints of one service of a tenant.
func (r *Registry) GetServiceEndpoints(tenant, service string) []ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []ServiceEndpoint
	for _, ep := range r.endpoints[tenant] {
		if ep.Service == service {
			result = append(result, ep)
		}
	}
	return result
}

// Remove drops all endpoints for a tenant. Called on tenant teardown.
func (r *Registry) Remove(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, tenant)
	delete(r.updated, tenant)
}

// Tenants returns the sorted names of all tenants with registered endpoints.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for tenant := range r.endpoints {
		names = append(names, tenant)
	}
	sort.Strings(names)
	return names
}

// LastUpdated reports when a tenant's endpoint set last changed. The zero
// time means the tenant is unknown to the registry.
func (r *Registry) LastUpdated(tenant string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated[tenant]
}
