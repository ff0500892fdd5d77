// Package handlers implements the admission handlers for the Tenant resource.
//
// It contains implementations of the controller-runtime CustomDefaulter and
// CustomValidator interfaces for two purposes:
//
//  1. Mutation (TenantDefaulter):
//     Intercepts CREATE and UPDATE requests to fill in omitted spec fields
//     (tier, replica counts, database engine and version, backup schedule)
//     so the stored object is fully explicit and the reconciler never has to
//     guess.
//
//  2. Validation (TenantValidator):
//     Enforces semantic rules that cannot be expressed in OpenAPI schemas:
//     cross-field checks, service name uniqueness, quota sanity, database
//     engine immutability on update, and domain ownership across tenants.
//
// Both handlers fail closed and record request metrics via pkg/monitoring.
package handlers
