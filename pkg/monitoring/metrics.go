package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Domain-specific metric collectors.
//
// These complement the generic controller-runtime metrics (reconcile counts,
// durations, work queue depth, etc.) with operator-specific state that the
// framework cannot know about.
var (
	tenantInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_operator_tenant_info",
			Help: "Info-style metric for Tenant discovery and phase tracking. Always 1.",
		},
		[]string{"name", "namespace", "phase"},
	)

	tenantServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_operator_tenant_services_total",
			Help: "Number of declared services in a Tenant.",
		},
		[]string{"tenant", "namespace"},
	)

	serviceReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_operator_service_replicas",
			Help: "Deployment replica counts for a tenant service.",
		},
		[]string{"tenant", "service", "state"},
	)

	databaseReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_operator_database_replicas",
			Help: "StatefulSet replica counts for a tenant database.",
		},
		[]string{"tenant", "state"},
	)

	provisionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_operator_provision_attempts_total",
			Help: "Total number of provisioning attempts per tenant, by result.",
		},
		[]string{"tenant", "result"},
	)

	discoveryEndpoints = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_operator_discovery_endpoints",
			Help: "Number of service endpoints registered for a tenant.",
		},
		[]string{"tenant"},
	)

	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_operator_health_check_duration_seconds",
			Help:    "Latency of a full tenant health sweep in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	webhookRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_operator_webhook_request_total",
			Help: "Total number of webhook admission requests.",
		},
		[]string{"operation", "resource", "result"},
	)

	webhookRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_operator_webhook_request_duration_seconds",
			Help:    "Latency of webhook admission handling in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "resource"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		tenantInfo,
		tenantServicesTotal,
		serviceReplicas,
		databaseReplicas,
		provisionAttemptsTotal,
		discoveryEndpoints,
		healthCheckDuration,
		webhookRequestTotal,
		webhookRequestDuration,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		tenantInfo,
		tenantServicesTotal,
		serviceReplicas,
		databaseReplicas,
		provisionAttemptsTotal,
		discoveryEndpoints,
		healthCheckDuration,
		webhookRequestTotal,
		webhookRequestDuration,
	}
}
