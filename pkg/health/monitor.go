// Package health implements the tenant health monitor: a leader-bound
// runnable that periodically probes every discovered service endpoint and the
// tenant database, aggregates the results into per-tenant snapshots, and
// exposes them as the tenant_health_status gauge. The monitor never writes
// Tenant status itself; the reconciler copies the latest snapshot into status
// on its next pass.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/discovery"
	"github.com/rezenkai/tenant-operator/pkg/monitoring"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
)

// DatabaseKey is the snapshot map key for the tenant database. It shares the
// namespace of declared service names, which the validating webhook keeps
// reserved.
const DatabaseKey = "database"

const (
	defaultInterval     = 30 * time.Second
	defaultProbeTimeout = 3 * time.Second
)

// Snapshot is one tenant's aggregated health verdict from the latest sweep.
type Snapshot struct {
	// Healthy is true when every declared service and the database probe
	// reported healthy.
	Healthy bool

	// Services maps declared service names (plus DatabaseKey) to their
	// latest probe result.
	Services map[string]tenantv1alpha1.HealthStatus

	// CheckedAt is when the sweep that produced this snapshot ran.
	CheckedAt time.Time
}

// Options configures a Monitor.
type Options struct {
	// Interval between sweeps. Defaults to 30s.
	Interval time.Duration

	// ProbeTimeout bounds each individual HTTP probe. Defaults to 3s.
	ProbeTimeout time.Duration

	// Registerer receives the tenant_health_status collector. Defaults to
	// the controller-runtime metrics registry; tests inject a fresh one.
	Registerer prometheus.Registerer

	// Requests, when set, receives a reconcile nudge whenever a tenant's
	// overall verdict flips. Sends are non-blocking.
	Requests chan<- event.GenericEvent
}

// Monitor periodically assesses tenant health. It implements
// manager.Runnable and runs only on the elected leader.
type Monitor struct {
	client       client.Client
	registry     *discovery.Registry
	requests     chan<- event.GenericEvent
	interval     time.Duration
	probeTimeout time.Duration
	httpClient   *http.Client
	gauge        *prometheus.GaugeVec

	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewMonitor builds a Monitor and registers its gauge on the given registry.
func NewMonitor(c client.Client, registry *discovery.Registry, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.Registerer == nil {
		opts.Registerer = ctrlmetrics.Registry
	}

	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_health_status",
			Help: "Health status of tenant services (1 = healthy, 0 = unhealthy)",
		},
		[]string{"tenant", "service"},
	)
	opts.Registerer.MustRegister(gauge)

	return &Monitor{
		client:       c,
		registry:     registry,
		requests:     opts.Requests,
		interval:     opts.Interval,
		probeTimeout: opts.ProbeTimeout,
		httpClient:   &http.Client{},
		gauge:        gauge,
		snapshots:    make(map[string]Snapshot),
	}
}

// NeedLeaderElection makes the manager start the monitor only while leading,
// so standby replicas do not probe or publish metrics.
func (m *Monitor) NeedLeaderElection() bool {
	return true
}

// Start runs the sweep loop until the context is cancelled. It satisfies
// manager.Runnable.
func (m *Monitor) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("health-monitor")
	logger.Info("starting health monitor", "interval", m.interval, "probeTimeout", m.probeTimeout)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping health monitor")
			return nil
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep runs one health assessment over all tenants. Per-tenant failures are
// logged and isolated; a bad tenant never halts monitoring of its siblings.
func (m *Monitor) sweep(ctx context.Context) {
	logger := log.FromContext(ctx)

	var tenants tenantv1alpha1.TenantList
	if err := m.client.List(ctx, &tenants); err != nil {
		logger.Error(err, "listing tenants for health sweep")
		return
	}

	live := make(map[string]bool, len(tenants.Items))
	for i := range tenants.Items {
		live[tenants.Items[i].Name] = true
	}
	// Registry entries can outlive their tenant when the watcher misses a
	// deletion, e.g. across a leader handover. The sweep reaps them so stale
	// endpoints and metric series do not linger indefinitely.
	for _, known := range m.registry.Tenants() {
		if !live[known] {
			logger.Info("reaping endpoints of deleted tenant", "tenant", known)
			m.registry.Remove(known)
			m.Forget(known)
		}
	}

	var wg sync.WaitGroup
	for i := range tenants.Items {
		tenant := &tenants.Items[i]
		if !tenant.DeletionTimestamp.IsZero() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			m.checkTenant(ctx, tenant)
			monitoring.ObserveHealthSweep(tenant.Name, time.Since(start))
		}()
	}
	wg.Wait()
}

// checkTenant probes one tenant and stores the resulting snapshot. A flipped
// overall verdict nudges the reconciler through the request channel.
func (m *Monitor) checkTenant(ctx context.Context, tenant *tenantv1alpha1.Tenant) {
	healthy, services := m.CheckTenantHealth(ctx, tenant)

	m.mu.Lock()
	prev, seen := m.snapshots[tenant.Name]
	m.snapshots[tenant.Name] = Snapshot{
		Healthy:   healthy,
		Services:  services,
		CheckedAt: time.Now(),
	}
	m.mu.Unlock()

	if seen && prev.Healthy != healthy {
		m.notify(ctx, tenant)
	}
}

// CheckTenantHealth probes every declared service of the tenant plus its
// database and returns the overall verdict with the per-service breakdown.
// Probe failures are captured in the returned statuses, never as errors:
// one unreachable service must not halt assessment of the others.
func (m *Monitor) CheckTenantHealth(ctx context.Context, tenant *tenantv1alpha1.Tenant) (bool, map[string]tenantv1alpha1.HealthStatus) {
	logger := log.FromContext(ctx).WithValues("tenant", tenant.Name)

	statuses := make(map[string]tenantv1alpha1.HealthStatus, len(tenant.Spec.Services)+1)
	var statusMu sync.Mutex

	var wg sync.WaitGroup
	for _, svc := range tenant.Spec.Services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := m.checkService(ctx, tenant.Name, svc.Name)
			statusMu.Lock()
			statuses[svc.Name] = status
			statusMu.Unlock()
		}()
	}
	wg.Wait()

	// Storage check applies even with zero declared services.
	statuses[DatabaseKey] = m.checkDatabaseHealth(ctx, tenant)

	overall := true
	for svc, status := range statuses {
		m.gauge.WithLabelValues(tenant.Name, svc).
			Set(boolToFloat64(status.Status == tenantv1alpha1.HealthHealthy))
		if status.Status != tenantv1alpha1.HealthHealthy {
			overall = false
			logger.Info("service not healthy",
				"service", svc, "status", status.Status, "message", status.Message)
		}
	}
	return overall, statuses
}

// checkService probes all discovered endpoints of one declared service. The
// service is healthy only when every endpoint answers 2xx; a service with no
// discovered endpoints is unknown, not unhealthy, since the workload may
// still be coming up.
func (m *Monitor) checkService(ctx context.Context, tenant, service string) tenantv1alpha1.HealthStatus {
	endpoints := m.registry.GetServiceEndpoints(tenant, name.Service(tenant, service))
	now := metav1.Now()
	if len(endpoints) == 0 {
		// An undiscovered tenant and a discovered tenant with a dead service
		// read differently in status, even though both are unknown.
		msg := "no endpoints discovered"
		if m.registry.LastUpdated(tenant).IsZero() {
			msg = "tenant not yet discovered"
		}
		return tenantv1alpha1.HealthStatus{
			Status:      tenantv1alpha1.HealthUnknown,
			Message:     msg,
			LastChecked: &now,
		}
	}

	results := make([]error, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.probe(ctx, ep)
		}()
	}
	wg.Wait()

	now = metav1.Now()
	for _, err := range results {
		if err != nil {
			return tenantv1alpha1.HealthStatus{
				Status:      tenantv1alpha1.HealthUnhealthy,
				Message:     err.Error(),
				LastChecked: &now,
			}
		}
	}
	return tenantv1alpha1.HealthStatus{
		Status:      tenantv1alpha1.HealthHealthy,
		Message:     "service is responding",
		LastChecked: &now,
	}
}

// probe issues one bounded-timeout HTTP health check against an endpoint.
func (m *Monitor) probe(ctx context.Context, ep discovery.ServiceEndpoint) error {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/health", ep.Address, ep.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// checkDatabaseHealth inspects the database StatefulSet's ready replicas.
// The replica count is a readiness proxy; an actual connectivity check is a
// deliberate non-feature, matching how the platform has always alerted.
// An absent StatefulSet means provisioning has not finished and reads as
// unknown rather than unhealthy.
func (m *Monitor) checkDatabaseHealth(ctx context.Context, tenant *tenantv1alpha1.Tenant) tenantv1alpha1.HealthStatus {
	now := metav1.Now()

	var sts appsv1.StatefulSet
	err := m.client.Get(ctx, types.NamespacedName{
		Name:      name.Database(tenant.Name),
		Namespace: name.Namespace(tenant.Name),
	}, &sts)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return tenantv1alpha1.HealthStatus{
				Status:      tenantv1alpha1.HealthUnknown,
				Message:     "database StatefulSet not found",
				LastChecked: &now,
			}
		}
		return tenantv1alpha1.HealthStatus{
			Status:      tenantv1alpha1.HealthUnknown,
			Message:     fmt.Sprintf("getting database StatefulSet: %v", err),
			LastChecked: &now,
		}
	}

	if sts.Status.ReadyReplicas == 0 {
		return tenantv1alpha1.HealthStatus{
			Status:      tenantv1alpha1.HealthUnhealthy,
			Message:     "database StatefulSet has no ready replicas",
			LastChecked: &now,
		}
	}
	return tenantv1alpha1.HealthStatus{
		Status:      tenantv1alpha1.HealthHealthy,
		Message:     "database is ready",
		LastChecked: &now,
	}
}

// Snapshot returns a copy of the latest verdict for a tenant. The second
// return is false before the first sweep covering that tenant completes.
func (m *Monitor) Snapshot(tenant string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[tenant]
	if !ok {
		return Snapshot{}, false
	}
	services := make(map[string]tenantv1alpha1.HealthStatus, len(snap.Services))
	for k, v := range snap.Services {
		services[k] = v
	}
	snap.Services = services
	return snap, true
}

// Forget drops a deleted tenant's snapshot and metric series.
func (m *Monitor) Forget(tenant string) {
	m.mu.Lock()
	delete(m.snapshots, tenant)
	m.mu.Unlock()
	m.gauge.DeletePartialMatch(prometheus.Labels{"tenant": tenant})
}

// notify posts a non-blocking reconcile request for the tenant.
func (m *Monitor) notify(ctx context.Context, tenant *tenantv1alpha1.Tenant) {
	if m.requests == nil {
		return
	}
	select {
	case m.requests <- event.GenericEvent{Object: tenant}:
	default:
		log.FromContext(ctx).Info("reconcile request channel full, dropping health nudge",
			"tenant", tenant.Name)
	}
}

func boolToFloat64(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
