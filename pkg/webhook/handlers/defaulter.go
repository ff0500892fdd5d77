package handlers

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/webhook"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/monitoring"
)

// +kubebuilder:webhook:path=/mutate-tenant-rezenkai-com-v1alpha1-tenant,mutating=true,failurePolicy=fail,sideEffects=None,groups=tenant.rezenkai.com,resources=tenants,verbs=create;update,versions=v1alpha1,name=mtenant.kb.io,admissionReviewVersions=v1

const (
	// DefaultTier is applied when the spec omits a tier.
	DefaultTier = "starter"
	// DefaultServiceVersion is the image tag used when a service omits one.
	DefaultServiceVersion = "latest"
	// DefaultDatabaseType is the engine used when the spec omits one.
	DefaultDatabaseType = "postgres"
	// DefaultBackupSchedule runs nightly at 02:00, after most tenant batch work.
	DefaultBackupSchedule = "0 2 * * *"
)

// defaultDatabaseVersions maps engine to the version provisioned when the
// spec omits one.
var defaultDatabaseVersions = map[string]string{
	"postgres": "16.4",
	"mysql":    "8.0",
}

// TenantDefaulter fills in omitted Tenant spec fields at admission time so
// the stored object is fully explicit.
type TenantDefaulter struct{}

var _ webhook.CustomDefaulter = &TenantDefaulter{}

// NewTenantDefaulter creates a new defaulter handler.
func NewTenantDefaulter() *TenantDefaulter {
	return &TenantDefaulter{}
}

// Default implements webhook.CustomDefaulter.
func (d *TenantDefaulter) Default(ctx context.Context, obj runtime.Object) error {
	start := time.Now()
	err := d.applyDefaults(ctx, obj)
	monitoring.RecordWebhookRequest("default", "tenant", err, time.Since(start))
	return err
}

func (d *TenantDefaulter) applyDefaults(ctx context.Context, obj runtime.Object) error {
	tenant, ok := obj.(*tenantv1alpha1.Tenant)
	if !ok {
		return fmt.Errorf("expected Tenant, got %T", obj)
	}

	// Stamp the admission span's trace context onto the object so the
	// reconcile triggered by this write joins the same trace.
	if tenant.Annotations == nil {
		tenant.Annotations = map[string]string{}
	}
	monitoring.InjectTraceContext(ctx, tenant.Annotations)

	if tenant.Spec.Tier == "" {
		tenant.Spec.Tier = DefaultTier
	}

	for i := range tenant.Spec.Services {
		svc := &tenant.Spec.Services[i]
		if svc.Replicas == nil {
			svc.Replicas = ptr.To(int32(1))
		}
		if svc.Version == "" {
			svc.Version = DefaultServiceVersion
		}
	}

	db := &tenant.Spec.Database
	if db.Type == "" {
		db.Type = DefaultDatabaseType
	}
	if db.Version == "" {
		if v, ok := defaultDatabaseVersions[db.Type]; ok {
			db.Version = v
		}
	}
	if db.Backup.Enabled && db.Backup.Schedule == "" {
		db.Backup.Schedule = DefaultBackupSchedule
	}

	return nil
}
