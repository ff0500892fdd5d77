// Package tenant implements the Tenant reconciler: the control loop that
// drives each tenant's namespace, database, service workloads, ingress, and
// backup jobs toward the declared spec, and owns every write to Tenant
// status. Desired state is rendered by per-concern builders (namespace.go,
// database.go, service.go, ingress.go, backup.go) and applied with a
// diff-before-write ensure step so an unchanged tenant produces zero API
// writes.
package tenant
