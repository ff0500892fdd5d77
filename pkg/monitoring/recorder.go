package monitoring

import "time"

// SetTenantInfo sets the info-style gauge for a Tenant.
// Old phase labels are automatically cleaned up via DeletePartialMatch.
func SetTenantInfo(name, namespace, phase string) {
	tenantInfo.DeletePartialMatch(map[string]string{
		"name":      name,
		"namespace": namespace,
	})
	tenantInfo.WithLabelValues(name, namespace, phase).Set(1)
}

// SetTenantServices sets the declared service count gauge for a tenant.
func SetTenantServices(tenant, namespace string, services int) {
	tenantServicesTotal.WithLabelValues(tenant, namespace).Set(float64(services))
}

// DeleteTenantMetrics removes all per-tenant series after a tenant is
// deleted, so dashboards do not show phantom tenants. The health monitor
// cleans up its own tenant_health_status series separately.
func DeleteTenantMetrics(tenant, namespace string) {
	tenantInfo.DeletePartialMatch(map[string]string{"name": tenant, "namespace": namespace})
	tenantServicesTotal.DeletePartialMatch(map[string]string{"tenant": tenant})
	serviceReplicas.DeletePartialMatch(map[string]string{"tenant": tenant})
	databaseReplicas.DeletePartialMatch(map[string]string{"tenant": tenant})
	discoveryEndpoints.DeletePartialMatch(map[string]string{"tenant": tenant})
}

// SetServiceReplicas sets the desired and ready replica gauges for a tenant
// service Deployment.
func SetServiceReplicas(tenant, service string, desired, ready int32) {
	serviceReplicas.WithLabelValues(tenant, service, "desired").Set(float64(desired))
	serviceReplicas.WithLabelValues(tenant, service, "ready").Set(float64(ready))
}

// SetDatabaseReplicas sets the desired and ready replica gauges for a tenant
// database StatefulSet.
func SetDatabaseReplicas(tenant string, desired, ready int32) {
	databaseReplicas.WithLabelValues(tenant, "desired").Set(float64(desired))
	databaseReplicas.WithLabelValues(tenant, "ready").Set(float64(ready))
}

// RecordProvisionAttempt records the outcome of one provisioning attempt.
func RecordProvisionAttempt(tenant string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	provisionAttemptsTotal.WithLabelValues(tenant, result).Inc()
}

// SetDiscoveryEndpoints sets the registered endpoint count for a tenant.
func SetDiscoveryEndpoints(tenant string, count int) {
	discoveryEndpoints.WithLabelValues(tenant).Set(float64(count))
}

// ObserveHealthSweep records the duration of one full health sweep for a
// tenant.
func ObserveHealthSweep(tenant string, duration time.Duration) {
	healthCheckDuration.WithLabelValues(tenant).Observe(duration.Seconds())
}

// RecordWebhookRequest records a webhook admission request's result and duration.
func RecordWebhookRequest(operation, resource string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	webhookRequestTotal.WithLabelValues(operation, resource, result).Inc()
	webhookRequestDuration.WithLabelValues(operation, resource).Observe(duration.Seconds())
}
