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

// Package name centralizes the naming convention for tenant-owned cluster
// objects. Every component that refers to a tenant's namespace or workloads
// goes through these helpers so the convention lives in exactly one place.
package name

import "strings"

// NamespacePrefix is prepended to the tenant name to form its namespace.
const NamespacePrefix = "tenant-"

// maxDNSLabel is the DNS-1123 label length limit for object names.
const maxDNSLabel = 63

// Namespace returns the namespace owned by the given tenant.
func Namespace(tenant string) string {
	return trim(NamespacePrefix + tenant)
}

// IsTenantNamespace reports whether the namespace follows the tenant naming
// convention.
func IsTenantNamespace(namespace string) bool {
	return len(namespace) > len(NamespacePrefix) &&
		strings.HasPrefix(namespace, NamespacePrefix)
}

// TenantFromNamespace extracts the tenant name from a tenant namespace.
// The second return is false when the namespace is not tenant-owned.
func TenantFromNamespace(namespace string) (string, bool) {
	if !IsTenantNamespace(namespace) {
		return "", false
	}
	return namespace[len(NamespacePrefix):], true
}

// Database returns the tenant database StatefulSet name.
func Database(tenant string) string {
	return trim(tenant + "-db")
}

// DatabaseService returns the headless Service name fronting the database.
func DatabaseService(tenant string) string {
	return trim(tenant + "-db-svc")
}

// DatabaseSecret returns the name of the database credentials Secret.
func DatabaseSecret(tenant string) string {
	return trim(tenant + "-db-credentials")
}

// Workload returns the Deployment name for one declared service.
func Workload(tenant, service string) string {
	return trim(tenant + "-" + service)
}

// Service returns the ClusterIP Service name for one declared service.
func Service(tenant, service string) string {
	return trim(tenant + "-" + service + "-svc")
}

// Ingress returns the tenant's Ingress name.
func Ingress(tenant string) string {
	return trim(tenant + "-ingress")
}

// trim enforces the DNS-1123 label limit. Inputs are already bounded by CRD
// validation, so plain truncation is sufficient here.
func trim(s string) string {
	if len(s) <= maxDNSLabel {
		return s
	}
	return strings.TrimRight(s[:maxDNSLabel], "-")
}
