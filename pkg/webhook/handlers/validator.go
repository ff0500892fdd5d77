package handlers

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/health"
	"github.com/rezenkai/tenant-operator/pkg/monitoring"
)

// +kubebuilder:webhook:path=/validate-tenant-rezenkai-com-v1alpha1-tenant,mutating=false,failurePolicy=fail,sideEffects=None,groups=tenant.rezenkai.com,resources=tenants,verbs=create;update,versions=v1alpha1,name=vtenant.kb.io,admissionReviewVersions=v1

// validTiers are the tiers with a quota table in the controller.
var validTiers = sets.New("starter", "professional", "enterprise")

// validDatabaseTypes are the engines the database builders can provision.
var validDatabaseTypes = sets.New("postgres", "mysql")

// TenantValidator validates Create and Update events for Tenants.
type TenantValidator struct {
	Client client.Client
}

var _ webhook.CustomValidator = &TenantValidator{}

// NewTenantValidator creates a new validator for Tenants.
func NewTenantValidator(c client.Client) *TenantValidator {
	return &TenantValidator{Client: c}
}

func (v *TenantValidator) ValidateCreate(
	ctx context.Context,
	obj runtime.Object,
) (admission.Warnings, error) {
	start := time.Now()
	warnings, err := v.validate(ctx, obj, nil)
	monitoring.RecordWebhookRequest("validate-create", "tenant", err, time.Since(start))
	return warnings, err
}

func (v *TenantValidator) ValidateUpdate(
	ctx context.Context,
	oldObj, newObj runtime.Object,
) (admission.Warnings, error) {
	start := time.Now()
	warnings, err := v.validate(ctx, newObj, oldObj)
	monitoring.RecordWebhookRequest("validate-update", "tenant", err, time.Since(start))
	return warnings, err
}

func (v *TenantValidator) ValidateDelete(
	ctx context.Context,
	obj runtime.Object,
) (admission.Warnings, error) {
	return nil, nil
}

func (v *TenantValidator) validate(
	ctx context.Context,
	obj, oldObj runtime.Object,
) (admission.Warnings, error) {
	tenant, ok := obj.(*tenantv1alpha1.Tenant)
	if !ok {
		return nil, fmt.Errorf("expected Tenant, got %T", obj)
	}

	var errs field.ErrorList
	spec := field.NewPath("spec")

	for _, msg := range validation.IsDNS1123Label(tenant.Name) {
		errs = append(errs, field.Invalid(field.NewPath("metadata", "name"), tenant.Name, msg))
	}

	if tenant.Spec.OrganizationName == "" {
		errs = append(errs, field.Required(spec.Child("organizationName"),
			"organization name must be set"))
	}

	if !validTiers.Has(tenant.Spec.Tier) {
		errs = append(errs, field.NotSupported(spec.Child("tier"),
			tenant.Spec.Tier, sets.List(validTiers)))
	}

	errs = append(errs, validateServices(spec.Child("services"), tenant.Spec.Services)...)
	errs = append(errs, validateResources(spec.Child("resources"), tenant.Spec.Resources)...)
	errs = append(errs, validateDatabase(spec.Child("database"), tenant.Spec.Database)...)

	if oldObj != nil {
		old, ok := oldObj.(*tenantv1alpha1.Tenant)
		if !ok {
			return nil, fmt.Errorf("expected Tenant, got %T", oldObj)
		}
		if old.Spec.Database.Type != tenant.Spec.Database.Type {
			errs = append(errs, field.Forbidden(spec.Child("database", "type"),
				"database type is immutable; restore into a new tenant to switch engines"))
		}
	}

	if len(errs) > 0 {
		return nil, apierrors.NewInvalid(
			tenantv1alpha1.GroupVersion.WithKind("Tenant").GroupKind(),
			tenant.Name,
			errs,
		)
	}

	return nil, v.validateDomainOwnership(ctx, tenant)
}

func validateServices(path *field.Path, services []tenantv1alpha1.ServiceSpec) field.ErrorList {
	var errs field.ErrorList

	if len(services) == 0 {
		errs = append(errs, field.Required(path, "at least one service must be declared"))
		return errs
	}

	seen := sets.New[string]()
	for i, svc := range services {
		p := path.Index(i)
		for _, msg := range validation.IsDNS1123Label(svc.Name) {
			errs = append(errs, field.Invalid(p.Child("name"), svc.Name, msg))
		}
		if svc.Name == health.DatabaseKey {
			errs = append(errs, field.Forbidden(p.Child("name"),
				fmt.Sprintf("%q is reserved for the tenant database health entry", health.DatabaseKey)))
		}
		if seen.Has(svc.Name) {
			errs = append(errs, field.Duplicate(p.Child("name"), svc.Name))
		}
		seen.Insert(svc.Name)
	}

	return errs
}

func validateResources(path *field.Path, res tenantv1alpha1.ResourceSpec) field.ErrorList {
	var errs field.ErrorList

	errs = append(errs, validateQuantityPair(path.Child("cpu"), res.CPU)...)
	errs = append(errs, validateQuantityPair(path.Child("memory"), res.Memory)...)

	size, err := resource.ParseQuantity(res.Storage.Size)
	switch {
	case err != nil:
		errs = append(errs, field.Invalid(path.Child("storage", "size"), res.Storage.Size,
			err.Error()))
	case size.IsZero():
		errs = append(errs, field.Invalid(path.Child("storage", "size"), res.Storage.Size,
			"storage size must be non-zero"))
	}

	return errs
}

func validateQuantityPair(path *field.Path, rq tenantv1alpha1.ResourceQuantity) field.ErrorList {
	var errs field.ErrorList

	request, err := resource.ParseQuantity(rq.Request)
	if err != nil {
		errs = append(errs, field.Invalid(path.Child("request"), rq.Request, err.Error()))
	} else if request.IsZero() {
		errs = append(errs, field.Invalid(path.Child("request"), rq.Request,
			"quota must be non-zero"))
	}

	limit, err := resource.ParseQuantity(rq.Limit)
	if err != nil {
		errs = append(errs, field.Invalid(path.Child("limit"), rq.Limit, err.Error()))
		return errs
	}
	if limit.IsZero() {
		errs = append(errs, field.Invalid(path.Child("limit"), rq.Limit,
			"quota must be non-zero"))
	}
	if len(errs) == 0 && limit.Cmp(request) < 0 {
		errs = append(errs, field.Invalid(path.Child("limit"), rq.Limit,
			"limit must not be lower than request"))
	}

	return errs
}

func validateDatabase(path *field.Path, db tenantv1alpha1.DatabaseSpec) field.ErrorList {
	var errs field.ErrorList

	if !validDatabaseTypes.Has(db.Type) {
		errs = append(errs, field.NotSupported(path.Child("type"),
			db.Type, sets.List(validDatabaseTypes)))
	}

	return errs
}

// validateDomainOwnership rejects domains already claimed by another tenant.
// Routing is host-based, so a shared domain would silently split traffic.
func (v *TenantValidator) validateDomainOwnership(
	ctx context.Context,
	tenant *tenantv1alpha1.Tenant,
) error {
	if len(tenant.Spec.Domains) == 0 {
		return nil
	}

	claimed := sets.New(tenant.Spec.Domains...)

	tenants := &tenantv1alpha1.TenantList{}
	if err := v.Client.List(ctx, tenants); err != nil {
		return fmt.Errorf("failed to list tenants for domain validation: %w", err)
	}

	for _, other := range tenants.Items {
		if other.Name == tenant.Name {
			continue
		}
		for _, domain := range other.Spec.Domains {
			if claimed.Has(domain) {
				return fmt.Errorf(
					"domain %q is already claimed by tenant %s",
					domain, other.Name,
				)
			}
		}
	}

	return nil
}
