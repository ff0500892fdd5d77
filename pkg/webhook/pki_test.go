package webhook

import (
	"context"
	"testing"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newPKIScheme(tb testing.TB) *runtime.Scheme {
	tb.Helper()
	scheme := runtime.NewScheme()
	if err := admissionregistrationv1.AddToScheme(scheme); err != nil {
		tb.Fatalf("failed to add admissionregistration scheme: %v", err)
	}
	if err := appsv1.AddToScheme(scheme); err != nil {
		tb.Fatalf("failed to add apps scheme: %v", err)
	}
	return scheme
}

func mutatingConfig(annotations map[string]string, webhooks ...string) *admissionregistrationv1.MutatingWebhookConfiguration {
	cfg := &admissionregistrationv1.MutatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name:        MutatingWebhookName,
			Annotations: annotations,
		},
	}
	for _, name := range webhooks {
		cfg.Webhooks = append(cfg.Webhooks, admissionregistrationv1.MutatingWebhook{
			Name:                    name,
			AdmissionReviewVersions: []string{"v1"},
			SideEffects:             ptr.To(admissionregistrationv1.SideEffectClassNone),
			ClientConfig: admissionregistrationv1.WebhookClientConfig{
				Service: &admissionregistrationv1.ServiceReference{
					Name:      "tenant-operator-webhook-service",
					Namespace: "tenant-operator-system",
				},
			},
		})
	}
	return cfg
}

func validatingConfig(annotations map[string]string, webhooks ...string) *admissionregistrationv1.ValidatingWebhookConfiguration {
	cfg := &admissionregistrationv1.ValidatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name:        ValidatingWebhookName,
			Annotations: annotations,
		},
	}
	for _, name := range webhooks {
		cfg.Webhooks = append(cfg.Webhooks, admissionregistrationv1.ValidatingWebhook{
			Name:                    name,
			AdmissionReviewVersions: []string{"v1"},
			SideEffects:             ptr.To(admissionregistrationv1.SideEffectClassNone),
			ClientConfig: admissionregistrationv1.WebhookClientConfig{
				Service: &admissionregistrationv1.ServiceReference{
					Name:      "tenant-operator-webhook-service",
					Namespace: "tenant-operator-system",
				},
			},
		})
	}
	return cfg
}

func TestPatchWebhookCABundle(t *testing.T) {
	t.Parallel()

	caBundle := []byte("-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----")

	t.Run("injects bundle and annotation into both configurations", func(t *testing.T) {
		t.Parallel()

		c := fake.NewClientBuilder().
			WithScheme(newPKIScheme(t)).
			WithObjects(
				mutatingConfig(nil, "mtenant.kb.io"),
				validatingConfig(nil, "vtenant.kb.io"),
			).
			Build()

		if err := PatchWebhookCABundle(context.Background(), c, caBundle); err != nil {
			t.Fatalf("PatchWebhookCABundle() error = %v", err)
		}

		mutating := &admissionregistrationv1.MutatingWebhookConfiguration{}
		if err := c.Get(context.Background(), types.NamespacedName{Name: MutatingWebhookName}, mutating); err != nil {
			t.Fatalf("getting mutating config: %v", err)
		}
		if got := string(mutating.Webhooks[0].ClientConfig.CABundle); got != string(caBundle) {
			t.Errorf("mutating caBundle = %q, want the injected bundle", got)
		}
		if mutating.Annotations[CertStrategyAnnotation] != CertStrategySelfSigned {
			t.Errorf("mutating annotation = %q, want %q",
				mutating.Annotations[CertStrategyAnnotation], CertStrategySelfSigned)
		}
		if svc := mutating.Webhooks[0].ClientConfig.Service; svc == nil || svc.Name != "tenant-operator-webhook-service" {
			t.Error("patch must preserve the webhook service reference")
		}

		validating := &admissionregistrationv1.ValidatingWebhookConfiguration{}
		if err := c.Get(context.Background(), types.NamespacedName{Name: ValidatingWebhookName}, validating); err != nil {
			t.Fatalf("getting validating config: %v", err)
		}
		if got := string(validating.Webhooks[0].ClientConfig.CABundle); got != string(caBundle) {
			t.Errorf("validating caBundle = %q, want the injected bundle", got)
		}
		if validating.Annotations[CertStrategyAnnotation] != CertStrategySelfSigned {
			t.Errorf("validating annotation = %q, want %q",
				validating.Annotations[CertStrategyAnnotation], CertStrategySelfSigned)
		}
	})

	t.Run("missing configurations are not an error", func(t *testing.T) {
		t.Parallel()

		c := fake.NewClientBuilder().WithScheme(newPKIScheme(t)).Build()
		if err := PatchWebhookCABundle(context.Background(), c, caBundle); err != nil {
			t.Errorf("PatchWebhookCABundle() error = %v, want nil", err)
		}
	})

	t.Run("configurations without webhooks are skipped", func(t *testing.T) {
		t.Parallel()

		c := fake.NewClientBuilder().
			WithScheme(newPKIScheme(t)).
			WithObjects(mutatingConfig(nil), validatingConfig(nil)).
			Build()

		if err := PatchWebhookCABundle(context.Background(), c, caBundle); err != nil {
			t.Fatalf("PatchWebhookCABundle() error = %v", err)
		}

		mutating := &admissionregistrationv1.MutatingWebhookConfiguration{}
		if err := c.Get(context.Background(), types.NamespacedName{Name: MutatingWebhookName}, mutating); err != nil {
			t.Fatalf("getting mutating config: %v", err)
		}
		if _, ok := mutating.Annotations[CertStrategyAnnotation]; ok {
			t.Error("empty configuration must not be annotated")
		}
	})
}

func TestHasCertAnnotation(t *testing.T) {
	t.Parallel()

	selfSigned := map[string]string{CertStrategyAnnotation: CertStrategySelfSigned}

	tests := map[string]struct {
		objects []client.Object
		want    bool
	}{
		"no configurations": {
			want: false,
		},
		"configurations without annotation": {
			objects: []client.Object{
				mutatingConfig(nil, "mtenant.kb.io"),
				validatingConfig(nil, "vtenant.kb.io"),
			},
			want: false,
		},
		"mutating carries annotation": {
			objects: []client.Object{mutatingConfig(selfSigned, "mtenant.kb.io")},
			want:    true,
		},
		"validating carries annotation": {
			objects: []client.Object{validatingConfig(selfSigned, "vtenant.kb.io")},
			want:    true,
		},
		"annotation with foreign value": {
			objects: []client.Object{
				mutatingConfig(map[string]string{CertStrategyAnnotation: "cert-manager"}, "mtenant.kb.io"),
			},
			want: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := fake.NewClientBuilder().
				WithScheme(newPKIScheme(t)).
				WithObjects(tc.objects...).
				Build()

			if got := HasCertAnnotation(context.Background(), c); got != tc.want {
				t.Errorf("HasCertAnnotation() = %v, want %v", got, tc.want)
			}
		})
	}
}

func operatorDeployment(name string, labels map[string]string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "tenant-operator-system",
			Labels:    labels,
		},
	}
}

func TestFindOperatorDeployment(t *testing.T) {
	t.Parallel()

	operatorLabels := map[string]string{"app.kubernetes.io/name": "tenant-operator"}

	tests := map[string]struct {
		objects  []client.Object
		labels   map[string]string
		name     string
		wantName string
		wantNil  bool
		wantErr  bool
	}{
		"found by labels": {
			objects:  []client.Object{operatorDeployment("tenant-operator-controller-manager", operatorLabels)},
			labels:   operatorLabels,
			wantName: "tenant-operator-controller-manager",
		},
		"multiple label matches": {
			objects: []client.Object{
				operatorDeployment("tenant-operator-a", operatorLabels),
				operatorDeployment("tenant-operator-b", operatorLabels),
			},
			labels:  operatorLabels,
			wantErr: true,
		},
		"label miss falls back to name": {
			objects:  []client.Object{operatorDeployment("tenant-operator-controller-manager", nil)},
			labels:   operatorLabels,
			name:     "tenant-operator-controller-manager",
			wantName: "tenant-operator-controller-manager",
		},
		"name not found": {
			labels:  operatorLabels,
			name:    "tenant-operator-controller-manager",
			wantNil: true,
		},
		"neither labels nor name given": {
			objects: []client.Object{operatorDeployment("tenant-operator-controller-manager", operatorLabels)},
			wantNil: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := fake.NewClientBuilder().
				WithScheme(newPKIScheme(t)).
				WithObjects(tc.objects...).
				Build()

			dep, err := FindOperatorDeployment(
				context.Background(), c, "tenant-operator-system", tc.labels, tc.name)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FindOperatorDeployment() error = %v", err)
			}
			if tc.wantNil {
				if dep != nil {
					t.Fatalf("expected no deployment, got %s", dep.Name)
				}
				return
			}
			if dep == nil || dep.Name != tc.wantName {
				t.Errorf("deployment = %v, want %s", dep, tc.wantName)
			}
		})
	}
}
