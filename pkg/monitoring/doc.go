// Package monitoring provides Prometheus metrics, recording helpers, and
// OpenTelemetry tracing for the Tenant Operator. It exposes domain-specific
// gauges and counters that complement the generic controller-runtime metrics
// already registered by the framework.
//
// All operator metrics follow the naming convention
// tenant_operator_<metric>_<unit> and are registered against
// controller-runtime's default Prometheus registry on import. The
// tenant_health_status gauge is not here: it is owned by the health monitor,
// which registers it on an injected registry so tests can observe it in
// isolation.
//
// Usage in controllers:
//
//	monitoring.SetTenantInfo(tenant.Name, name.Namespace(tenant.Name), string(tenant.Status.Phase))
//	monitoring.SetServiceReplicas(tenant.Name, "crm", desired, ready)
//
// Usage in webhooks:
//
//	monitoring.RecordWebhookRequest("CREATE", "Tenant", err, elapsed)
package monitoring
