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
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ============================================================================
// Shared Configuration Structs
// ============================================================================

// ResourceSpec defines the compute and storage budget for a tenant.
type ResourceSpec struct {
	// CPU request and limit applied to each service container.
	CPU ResourceQuantity `json:"cpu"`

	// Memory request and limit applied to each service container.
	Memory ResourceQuantity `json:"memory"`

	// Storage configuration for the tenant database volume.
	Storage StorageSpec `json:"storage"`
}

// ResourceQuantity is a request/limit pair in Kubernetes quantity notation.
type ResourceQuantity struct {
	// +kubebuilder:validation:MinLength=1
	Request string `json:"request"`

	// +kubebuilder:validation:MinLength=1
	Limit string `json:"limit"`
}

// StorageSpec defines the persistent volume configuration.
type StorageSpec struct {
	// Size of the persistent volume.
	// +kubebuilder:validation:Pattern="^([0-9]+)(.+)$"
	Size string `json:"size"`

	// Class is the StorageClass name.
	// +optional
	Class string `json:"class,omitempty"`
}

// ServiceSpec declares one microservice to run for the tenant.
type ServiceSpec struct {
	// Name of the service. Used for workload, Service, and metric naming.
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=63
	// +kubebuilder:validation:Pattern="^[a-z0-9]([-a-z0-9]*[a-z0-9])?$"
	Name string `json:"name"`

	// Version is the image tag to deploy.
	Version string `json:"version"`

	// Replicas is the desired number of pods.
	// +kubebuilder:validation:Minimum=0
	// +optional
	Replicas *int32 `json:"replicas,omitempty"`

	// Env is extra environment for the service container.
	// +optional
	Env []corev1.EnvVar `json:"env,omitempty"`

	// Config is service-specific configuration rendered into the container
	// environment as-is.
	// +optional
	Config map[string]string `json:"config,omitempty"`
}

// DatabaseSpec configures the tenant-owned database.
type DatabaseSpec struct {
	// Type of database engine.
	// +kubebuilder:validation:Enum=postgres;mysql
	Type string `json:"type"`

	// Version of the database image.
	Version string `json:"version"`

	// PoolSize is the connection pool hint exported to services.
	// +kubebuilder:validation:Minimum=0
	// +optional
	PoolSize int32 `json:"poolSize,omitempty"`

	// Backup configuration.
	// +optional
	Backup BackupSpec `json:"backup,omitempty"`
}

// BackupSpec configures scheduled database backups.
type BackupSpec struct {
	// Enabled turns automatic backups on.
	Enabled bool `json:"enabled"`

	// Schedule in cron format.
	// +optional
	Schedule string `json:"schedule,omitempty"`

	// RetentionDays controls how long backups are kept.
	// +kubebuilder:validation:Minimum=0
	// +optional
	RetentionDays int32 `json:"retentionDays,omitempty"`
}

// ============================================================================
// Shared Status Structs
// ============================================================================

// HealthState is the verdict of a single health probe.
// +kubebuilder:validation:Enum=healthy;unhealthy;unknown
type HealthState string

const (
	// HealthHealthy means the most recent probe returned a 2xx response.
	HealthHealthy HealthState = "healthy"

	// HealthUnhealthy means the most recent probe failed, timed out, or the
	// storage workload has zero ready replicas.
	HealthUnhealthy HealthState = "unhealthy"

	// HealthUnknown means no probe has completed yet, or the probed workload
	// does not exist yet (e.g. storage before provisioning completes).
	HealthUnknown HealthState = "unknown"
)

// HealthStatus is the latest health observation for one service of a tenant.
// It is overwritten on every probe cycle; history lives in the Tenant's
// conditions, never here.
type HealthStatus struct {
	Status HealthState `json:"status"`

	// Message carries the probe failure detail, empty when healthy.
	// +optional
	Message string `json:"message,omitempty"`

	// LastChecked is when the probe completed.
	// +optional
	LastChecked *metav1.Time `json:"lastChecked,omitempty"`
}

// ServiceStatus summarizes the workload state of one declared service.
type ServiceStatus struct {
	Name string `json:"name"`

	// Ready is true when the Deployment reports all replicas ready.
	Ready bool `json:"ready"`

	// Replicas is the desired replica count.
	Replicas int32 `json:"replicas"`

	// ReadyReplicas is the observed ready replica count.
	ReadyReplicas int32 `json:"readyReplicas"`

	// Endpoints is how many reachable addresses service discovery currently
	// tracks for this service.
	// +optional
	Endpoints int32 `json:"endpoints,omitempty"`

	// Version currently deployed.
	Version string `json:"version"`
}

// DatabaseStatus summarizes the tenant database.
type DatabaseStatus struct {
	// Ready is true when the database StatefulSet has at least one ready
	// replica.
	Ready bool `json:"ready"`

	// ConnectionURL is the in-cluster DNS address services should use.
	// +optional
	ConnectionURL string `json:"connectionUrl,omitempty"`

	// LastBackupTime is when the most recent backup job was created.
	// +optional
	LastBackupTime *metav1.Time `json:"lastBackupTime,omitempty"`
}
