package metadata

import "maps"

// Standard Kubernetes label keys following kubernetes.io conventions.
//
// See: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the unique instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppVersion is the standard label key for the application version.
	LabelAppVersion = "app.kubernetes.io/version"

	// LabelAppComponent is the standard label key for the component within the
	// application.
	LabelAppComponent = "app.kubernetes.io/component"

	// LabelAppPartOf is the standard label key for the name of a higher level
	// application this one is part of.
	LabelAppPartOf = "app.kubernetes.io/part-of"

	// LabelAppManagedBy is the standard label key for the tool managing the
	// resource.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	// AppNamePlatform is the fixed application name for all tenant resources.
	AppNamePlatform = "rezenkai"

	// ManagedByOperator identifies the operator managing these resources.
	ManagedByOperator = "tenant-operator"
)

const (
	// ComponentDatabase identifies the tenant database component.
	ComponentDatabase = "database"

	// ComponentService identifies a tenant application service component.
	ComponentService = "service"

	// ComponentIngress identifies the tenant ingress component.
	ComponentIngress = "ingress"

	// ComponentBackup identifies a backup or restore job component.
	ComponentBackup = "backup"
)

const (
	// LabelTenant identifies which tenant a resource belongs to.
	LabelTenant = "tenant.rezenkai.com/name"

	// LabelTenantTier records the tenant's subscription tier.
	LabelTenantTier = "tenant.rezenkai.com/tier"

	// LabelTenantService identifies which declared service a resource backs.
	LabelTenantService = "tenant.rezenkai.com/service"
)

// BuildStandardLabels returns a map of standard kubernetes labels.
// tenantName should be the name of the Tenant CR (used for instance label).
// component is the name of the component (e.g. database, service, ingress).
func BuildStandardLabels(tenantName, component string) map[string]string {
	return map[string]string{
		LabelAppName:      AppNamePlatform,
		LabelAppInstance:  tenantName,
		LabelAppComponent: component,
		LabelAppPartOf:    AppNamePlatform,
		LabelAppManagedBy: ManagedByOperator,
		LabelTenant:       tenantName,
	}
}

// AddTierLabel adds the tier label to the provided labels map.
func AddTierLabel(labels map[string]string, tier string) map[string]string {
	labels[LabelTenantTier] = tier
	return labels
}

// AddServiceLabel adds the service label to the provided labels map.
func AddServiceLabel(labels map[string]string, service string) map[string]string {
	labels[LabelTenantService] = service
	return labels
}

// selectorLabelsAllowList contains the keys that are allowed in label selectors.
// These must be stable identity labels, not mutable metadata.
var selectorLabelsAllowList = map[string]bool{
	LabelAppComponent:  true,
	LabelAppInstance:   true,
	LabelTenant:        true,
	LabelTenantService: true,
}

// GetSelectorLabels filters the provided labels map to return only those keys
// allowed in resource selectors (Identity Labels).
//
// This separates stable identity labels from mutable metadata labels like
// versions or tier tags, ensuring that changes to mutable metadata do not
// trigger unnecessary recreation of immutable resources (like StatefulSets).
func GetSelectorLabels(labels map[string]string) map[string]string {
	selectorLabels := make(map[string]string)
	for k, v := range labels {
		if selectorLabelsAllowList[k] {
			selectorLabels[k] = v
		}
	}
	return selectorLabels
}

// MergeLabels merges custom labels with standard labels.
//
// Note that standard labels take precedence over custom labels to prevent users
// from overriding critical operator-managed labels.
func MergeLabels(standardLabels, customLabels map[string]string) map[string]string {
	merged := make(map[string]string)

	// Copy custom labels first (if provided)
	maps.Copy(merged, customLabels)

	// Copy standard labels (overwriting any duplicates from custom)
	maps.Copy(merged, standardLabels)

	return merged
}
