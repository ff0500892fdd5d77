/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package v1alpha1 defines the API types for the Tenant Operator.
//
// This package contains the Go type definitions for the Custom Resources in
// the tenant.rezenkai.com API group. These types are used by kubebuilder to
// generate:
//   - CustomResourceDefinitions (CRDs)
//   - DeepCopy methods
//   - Client code
//
// # Custom Resources
//
//   - Tenant: the declarative description of a single customer deployment of
//     the platform. The spec carries the plan tier, resource quotas, the set
//     of microservices to run, and the database configuration. The status is
//     written exclusively by the tenant controller and records the lifecycle
//     phase, per-service health, and condition history.
//
// # Lifecycle
//
// A Tenant moves through the phases
//
//	Pending -> Provisioning -> Ready <-> Degraded
//	                       \-> Failed
//	any -> Terminating -> (removed)
//
// Provisioning covers the window where owned workloads exist but are not yet
// ready. Ready requires every declared service to report healthy. Degraded is
// entered from Ready when at least one service probe fails while the
// workloads themselves remain scheduled. Failed is terminal only with respect
// to provisioning attempts; the controller keeps resyncing so a Failed tenant
// recovers once the underlying cause clears.
//
// # Versioning
//
// This is the v1alpha1 version, indicating the API is in early development
// and may change in backward-incompatible ways.
package v1alpha1
