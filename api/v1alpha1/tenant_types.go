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

package v1alpha1

import (
	"slices"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// TenantPhase is the coarse lifecycle state of a tenant.
// +kubebuilder:validation:Enum=Pending;Provisioning;Ready;Degraded;Terminating;Failed
type TenantPhase string

const (
	// PhasePending is the initial state before the controller has acted.
	PhasePending TenantPhase = "Pending"

	// PhaseProvisioning means owned workloads exist but are not all ready.
	PhaseProvisioning TenantPhase = "Provisioning"

	// PhaseReady means all workloads are ready and every declared service
	// reports healthy.
	PhaseReady TenantPhase = "Ready"

	// PhaseDegraded means workloads are ready but at least one service
	// probe reports unhealthy.
	PhaseDegraded TenantPhase = "Degraded"

	// PhaseTerminating means the tenant is being deleted and owned
	// resources are being torn down.
	PhaseTerminating TenantPhase = "Terminating"

	// PhaseFailed means provisioning errored repeatedly beyond the retry
	// budget. Reconciliation continues on the resync period so the tenant
	// can self-heal.
	PhaseFailed TenantPhase = "Failed"
)

// Condition types recorded on a Tenant. A condition is appended only when the
// phase transitions, so the condition list is a compact history of lifecycle
// evidence rather than a per-reconcile log.
const (
	ConditionProvisioning = "Provisioning"
	ConditionReady        = "Ready"
	ConditionDegraded     = "Degraded"
	ConditionFailed       = "Failed"
	ConditionTerminating  = "Terminating"
)

// TenantSpec defines the desired state of a tenant deployment.
type TenantSpec struct {
	// OrganizationName is the display name of the tenant organization.
	// +kubebuilder:validation:MinLength=1
	OrganizationName string `json:"organizationName"`

	// Tier determines resource allocation and quota ceilings.
	// +kubebuilder:validation:Enum=starter;professional;enterprise
	Tier string `json:"tier"`

	// Resources is the compute and storage budget for the tenant.
	Resources ResourceSpec `json:"resources"`

	// Services is the set of platform microservices to run for this tenant.
	Services []ServiceSpec `json:"services"`

	// Database configures the tenant-owned database instance.
	Database DatabaseSpec `json:"database"`

	// Domains are the external hostnames routed to this tenant's gateway.
	// +optional
	Domains []string `json:"domains,omitempty"`

	// Features are per-tenant feature flags forwarded to services.
	// +optional
	Features map[string]bool `json:"features,omitempty"`
}

// TenantStatus defines the observed state of a tenant deployment.
// It is written only by the tenant controller, through the status
// subresource, and never combined with spec writes.
type TenantStatus struct {
	// Phase is the current lifecycle phase.
	// +optional
	Phase TenantPhase `json:"phase,omitempty"`

	// Conditions is the append-only history of phase transitions.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// ServiceHealth maps service name to its latest probe result. The
	// special key "database" carries the storage readiness verdict.
	// +optional
	ServiceHealth map[string]HealthStatus `json:"serviceHealth,omitempty"`

	// Services summarizes workload readiness per declared service.
	// +optional
	Services []ServiceStatus `json:"services,omitempty"`

	// DatabaseStatus summarizes the tenant database.
	// +optional
	DatabaseStatus DatabaseStatus `json:"databaseStatus,omitempty"`

	// URL is the primary external address, set when domains are declared.
	// +optional
	URL string `json:"url,omitempty"`

	// LastReconcileTime is when the controller last completed a pass.
	// +optional
	LastReconcileTime *metav1.Time `json:"lastReconcileTime,omitempty"`

	// ObservedGeneration is the spec generation the status reflects. When it
	// trails metadata.generation the status is stale and must not be used
	// for phase decisions.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster
// +kubebuilder:printcolumn:name="Organization",type=string,JSONPath=`.spec.organizationName`
// +kubebuilder:printcolumn:name="Tier",type=string,JSONPath=`.spec.tier`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Tenant is the Schema for the tenants API. It is cluster-scoped: each
// tenant provisions into its own namespace, and only a cluster-scoped owner
// may hold owner references on objects across those namespaces.
type Tenant struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   TenantSpec   `json:"spec,omitempty"`
	Status TenantStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// TenantList contains a list of Tenant.
type TenantList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Tenant `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Tenant{}, &TenantList{})
}

// ValidPhaseTransition reports whether moving from one phase to another
// follows the tenant lifecycle graph:
//
//	Pending -> Provisioning -> {Ready, Failed}
//	Ready <-> Degraded
//	any -> Terminating
//
// The empty phase is treated as Pending. Self-transitions are always valid.
func ValidPhaseTransition(from, to TenantPhase) bool {
	if from == "" {
		from = PhasePending
	}
	if from == to {
		return true
	}
	if to == PhaseTerminating {
		return true
	}
	switch from {
	case PhasePending:
		return to == PhaseProvisioning
	case PhaseProvisioning:
		return to == PhaseReady || to == PhaseFailed
	case PhaseReady:
		return to == PhaseDegraded || to == PhaseProvisioning
	case PhaseDegraded:
		return to == PhaseReady || to == PhaseProvisioning
	case PhaseFailed:
		return to == PhaseProvisioning
	}
	return false
}

// ServiceNames returns the declared service names in spec order.
func (t *Tenant) ServiceNames() []string {
	names := make([]string, 0, len(t.Spec.Services))
	for _, s := range t.Spec.Services {
		names = append(names, s.Name)
	}
	return names
}

// FeatureEnvVars renders the tenant's feature flags as container environment
// variables, for injection into every service pod. Output order is sorted so
// repeated renders of the same spec compare equal.
func (t *Tenant) FeatureEnvVars() []corev1.EnvVar {
	if len(t.Spec.Features) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.Spec.Features))
	for name := range t.Spec.Features {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]corev1.EnvVar, 0, len(names))
	for _, name := range names {
		v := "false"
		if t.Spec.Features[name] {
			v = "true"
		}
		out = append(out, corev1.EnvVar{Name: "FEATURE_" + envName(name), Value: v})
	}
	return out
}

func envName(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c == '-' || c == '.':
			b[i] = '_'
		}
	}
	return string(b)
}
