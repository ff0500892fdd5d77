package tenant

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/util/metadata"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
)

// tierQuota is the hard ceiling applied to a tenant namespace per tier.
type tierQuota struct {
	pods           string
	requestsCPU    string
	requestsMemory string
	limitsCPU      string
	limitsMemory   string
}

var tierQuotas = map[string]tierQuota{
	"starter":      {pods: "10", requestsCPU: "2", requestsMemory: "4Gi", limitsCPU: "4", limitsMemory: "8Gi"},
	"professional": {pods: "25", requestsCPU: "8", requestsMemory: "16Gi", limitsCPU: "16", limitsMemory: "32Gi"},
	"enterprise":   {pods: "100", requestsCPU: "32", requestsMemory: "64Gi", limitsCPU: "64", limitsMemory: "128Gi"},
}

// BuildNamespace creates the namespace owned by the tenant. Namespaces are
// cluster-scoped, so they carry no owner reference; teardown deletes them
// explicitly.
func BuildNamespace(tenant *tenantv1alpha1.Tenant) *corev1.Namespace {
	labels := metadata.BuildStandardLabels(tenant.Name, "namespace")
	metadata.AddTierLabel(labels, tenant.Spec.Tier)

	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name.Namespace(tenant.Name),
			Labels: labels,
		},
	}
}

// BuildResourceQuota creates the per-tier ResourceQuota for the tenant
// namespace.
func BuildResourceQuota(tenant *tenantv1alpha1.Tenant) (*corev1.ResourceQuota, error) {
	quota, ok := tierQuotas[tenant.Spec.Tier]
	if !ok {
		return nil, fmt.Errorf("unknown tier %q", tenant.Spec.Tier)
	}

	hard := corev1.ResourceList{}
	for res, val := range map[corev1.ResourceName]string{
		corev1.ResourcePods:           quota.pods,
		corev1.ResourceRequestsCPU:    quota.requestsCPU,
		corev1.ResourceRequestsMemory: quota.requestsMemory,
		corev1.ResourceLimitsCPU:      quota.limitsCPU,
		corev1.ResourceLimitsMemory:   quota.limitsMemory,
	} {
		q, err := resource.ParseQuantity(val)
		if err != nil {
			return nil, fmt.Errorf("parsing quota %s for tier %s: %w", res, tenant.Spec.Tier, err)
		}
		hard[res] = q
	}

	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.Namespace(tenant.Name) + "-quota",
			Namespace: name.Namespace(tenant.Name),
			Labels:    metadata.BuildStandardLabels(tenant.Name, "namespace"),
		},
		Spec: corev1.ResourceQuotaSpec{Hard: hard},
	}, nil
}

// BuildNetworkPolicy creates the default-deny policy for the tenant
// namespace: only intra-namespace traffic and ingress-controller traffic is
// admitted, isolating tenants from each other at the network layer.
func BuildNetworkPolicy(tenant *tenantv1alpha1.Tenant) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.Namespace(tenant.Name) + "-isolation",
			Namespace: name.Namespace(tenant.Name),
			Labels:    metadata.BuildStandardLabels(tenant.Name, "namespace"),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress: []networkingv1.NetworkPolicyIngressRule{
				{
					From: []networkingv1.NetworkPolicyPeer{
						{PodSelector: &metav1.LabelSelector{}},
						{
							NamespaceSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{
									"kubernetes.io/metadata.name": "ingress-nginx",
								},
							},
						},
					},
				},
			},
		},
	}
}
