package tenant

import (
	"fmt"

	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/util/metadata"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
)

// gatewayService is the declared service name that fronts a tenant's external
// traffic. The ingress routes every domain to it.
const gatewayService = "gateway"

// BuildIngress creates the tenant Ingress routing all declared domains to the
// tenant's gateway Service. Callers must skip the ingress entirely when no
// domains are declared.
func BuildIngress(tenant *tenantv1alpha1.Tenant, scheme *runtime.Scheme) (*networkingv1.Ingress, error) {
	pathType := networkingv1.PathTypePrefix

	rules := make([]networkingv1.IngressRule, 0, len(tenant.Spec.Domains))
	for _, domain := range tenant.Spec.Domains {
		rules = append(rules, networkingv1.IngressRule{
			Host: domain,
			IngressRuleValue: networkingv1.IngressRuleValue{
				HTTP: &networkingv1.HTTPIngressRuleValue{
					Paths: []networkingv1.HTTPIngressPath{
						{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: name.Service(tenant.Name, gatewayService),
									Port: networkingv1.ServiceBackendPort{Number: ServicePort},
								},
							},
						},
					},
				},
			},
		})
	}

	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.Ingress(tenant.Name),
			Namespace: name.Namespace(tenant.Name),
			Labels:    metadata.BuildStandardLabels(tenant.Name, metadata.ComponentIngress),
			Annotations: map[string]string{
				"cert-manager.io/cluster-issuer":              "letsencrypt-prod",
				"nginx.ingress.kubernetes.io/ssl-redirect":    "true",
				"nginx.ingress.kubernetes.io/proxy-body-size": "100m",
			},
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: ptr.To("nginx"),
			TLS: []networkingv1.IngressTLS{
				{Hosts: tenant.Spec.Domains, SecretName: tenant.Name + "-tls"},
			},
			Rules: rules,
		},
	}

	if err := ctrl.SetControllerReference(tenant, ingress, scheme); err != nil {
		return nil, fmt.Errorf("setting controller reference: %w", err)
	}
	return ingress, nil
}
