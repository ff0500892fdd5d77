package envtestutil

import (
	"context"
	"errors"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := tenantv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("adding tenant scheme: %v", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("adding core scheme: %v", err)
	}
	return scheme
}

func tenantObj(name string) *tenantv1alpha1.Tenant {
	return &tenantv1alpha1.Tenant{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec:       tenantv1alpha1.TenantSpec{OrganizationName: name + " Inc", Tier: "starter"},
	}
}

func credentialsSecret(tenant string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      tenant + "-db-credentials",
			Namespace: "tenant-" + tenant,
		},
		Data: map[string][]byte{"password": []byte("s3cret")},
	}
}

func newFailingClient(t *testing.T, config *FailureConfig, objects ...client.Object) client.Client {
	t.Helper()
	base := fake.NewClientBuilder().
		WithScheme(newScheme(t)).
		WithObjects(objects...).
		WithStatusSubresource(&tenantv1alpha1.Tenant{}).
		Build()
	return NewFakeClientWithFailures(base, config)
}

func TestFailureConfig_Get(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		config  *FailureConfig
		key     client.ObjectKey
		wantErr error
	}{
		"nil config passes through": {
			config: nil,
			key:    client.ObjectKey{Name: "acme-db-credentials", Namespace: "tenant-acme"},
		},
		"fail on matching key name": {
			config:  &FailureConfig{OnGet: FailOnKeyName("acme-db-credentials", ErrInjected)},
			key:     client.ObjectKey{Name: "acme-db-credentials", Namespace: "tenant-acme"},
			wantErr: ErrInjected,
		},
		"other key names unaffected": {
			config: &FailureConfig{OnGet: FailOnKeyName("globex-db-credentials", ErrInjected)},
			key:    client.ObjectKey{Name: "acme-db-credentials", Namespace: "tenant-acme"},
		},
		"fail on namespaced key": {
			config: &FailureConfig{
				OnGet: FailOnNamespacedKeyName("acme-db-credentials", "tenant-acme", ErrNetworkTimeout),
			},
			key:     client.ObjectKey{Name: "acme-db-credentials", Namespace: "tenant-acme"},
			wantErr: ErrNetworkTimeout,
		},
		"namespaced key requires both to match": {
			config: &FailureConfig{
				OnGet: FailOnNamespacedKeyName("acme-db-credentials", "tenant-globex", ErrNetworkTimeout),
			},
			key: client.ObjectKey{Name: "acme-db-credentials", Namespace: "tenant-acme"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := newFailingClient(t, tc.config, credentialsSecret("acme"))
			err := c.Get(context.Background(), tc.key, &corev1.Secret{})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Get() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestFailureConfig_MutatingVerbs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("create fails on matching object name", func(t *testing.T) {
		t.Parallel()

		c := newFailingClient(t, &FailureConfig{
			OnCreate: FailOnObjectName("acme", ErrPermissionError),
		})
		if err := c.Create(ctx, tenantObj("acme")); !errors.Is(err, ErrPermissionError) {
			t.Errorf("Create(acme) error = %v, want %v", err, ErrPermissionError)
		}
		if err := c.Create(ctx, tenantObj("globex")); err != nil {
			t.Errorf("Create(globex) error = %v, want nil", err)
		}
	})

	t.Run("update fails in matching namespace", func(t *testing.T) {
		t.Parallel()

		secret := credentialsSecret("acme")
		c := newFailingClient(t, &FailureConfig{
			OnUpdate: FailOnNamespace("tenant-acme", ErrInjected),
		}, secret)

		secret.Data["password"] = []byte("rotated")
		if err := c.Update(ctx, secret); !errors.Is(err, ErrInjected) {
			t.Errorf("Update() error = %v, want %v", err, ErrInjected)
		}
	})

	t.Run("patch always fails", func(t *testing.T) {
		t.Parallel()

		secret := credentialsSecret("acme")
		c := newFailingClient(t, &FailureConfig{
			OnPatch: FailObjAfterNCalls(0, ErrInjected),
		}, secret)

		err := c.Patch(ctx, secret, client.MergeFrom(secret.DeepCopy()))
		if !errors.Is(err, ErrInjected) {
			t.Errorf("Patch() error = %v, want %v", err, ErrInjected)
		}
	})

	t.Run("delete fails on matching object name", func(t *testing.T) {
		t.Parallel()

		tenant := tenantObj("acme")
		c := newFailingClient(t, &FailureConfig{
			OnDelete: FailOnObjectName("acme", ErrPermissionError),
		}, tenant)

		if err := c.Delete(ctx, tenant); !errors.Is(err, ErrPermissionError) {
			t.Errorf("Delete() error = %v, want %v", err, ErrPermissionError)
		}
	})

	t.Run("delete-all-of fails", func(t *testing.T) {
		t.Parallel()

		c := newFailingClient(t, &FailureConfig{
			OnDeleteAllOf: FailObjAfterNCalls(0, ErrInjected),
		})
		err := c.DeleteAllOf(ctx, &corev1.Secret{}, client.InNamespace("tenant-acme"))
		if !errors.Is(err, ErrInjected) {
			t.Errorf("DeleteAllOf() error = %v, want %v", err, ErrInjected)
		}
	})
}

func TestFailureConfig_List(t *testing.T) {
	t.Parallel()

	c := newFailingClient(t, &FailureConfig{
		OnList: FailObjListAfterNCalls(1, ErrNetworkTimeout),
	}, tenantObj("acme"), tenantObj("globex"))

	ctx := context.Background()
	var tenants tenantv1alpha1.TenantList
	if err := c.List(ctx, &tenants); err != nil {
		t.Fatalf("first List() error = %v, want nil", err)
	}
	if len(tenants.Items) != 2 {
		t.Errorf("listed %d tenants, want 2", len(tenants.Items))
	}
	if err := c.List(ctx, &tenants); !errors.Is(err, ErrNetworkTimeout) {
		t.Errorf("second List() error = %v, want %v", err, ErrNetworkTimeout)
	}
}

func TestFailureConfig_StatusWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("status update intercepted", func(t *testing.T) {
		t.Parallel()

		tenant := tenantObj("acme")
		c := newFailingClient(t, &FailureConfig{
			OnStatusUpdate: FailOnObjectName("acme", ErrInjected),
		}, tenant)

		tenant.Status.Phase = tenantv1alpha1.PhaseReady
		if err := c.Status().Update(ctx, tenant); !errors.Is(err, ErrInjected) {
			t.Errorf("Status().Update() error = %v, want %v", err, ErrInjected)
		}
	})

	t.Run("status patch intercepted", func(t *testing.T) {
		t.Parallel()

		tenant := tenantObj("acme")
		c := newFailingClient(t, &FailureConfig{
			OnStatusPatch: FailObjAfterNCalls(0, ErrInjected),
		}, tenant)

		err := c.Status().Patch(ctx, tenant, client.MergeFrom(tenant.DeepCopy()))
		if !errors.Is(err, ErrInjected) {
			t.Errorf("Status().Patch() error = %v, want %v", err, ErrInjected)
		}
	})

	t.Run("main writer unaffected by status hooks", func(t *testing.T) {
		t.Parallel()

		tenant := tenantObj("acme")
		c := newFailingClient(t, &FailureConfig{
			OnStatusUpdate: FailObjAfterNCalls(0, ErrInjected),
		}, tenant)

		tenant.Labels = map[string]string{"tier": "starter"}
		if err := c.Update(ctx, tenant); err != nil {
			t.Errorf("Update() error = %v, want nil", err)
		}
	})
}

func TestFailAfterNCalls(t *testing.T) {
	t.Parallel()

	t.Run("key failures start after the threshold", func(t *testing.T) {
		t.Parallel()

		c := newFailingClient(t, &FailureConfig{
			OnGet: FailKeyAfterNCalls(2, ErrNetworkTimeout),
		}, credentialsSecret("acme"))

		ctx := context.Background()
		key := client.ObjectKey{Name: "acme-db-credentials", Namespace: "tenant-acme"}
		for i := 0; i < 2; i++ {
			if err := c.Get(ctx, key, &corev1.Secret{}); err != nil {
				t.Fatalf("Get() #%d error = %v, want nil", i+1, err)
			}
		}
		if err := c.Get(ctx, key, &corev1.Secret{}); !errors.Is(err, ErrNetworkTimeout) {
			t.Errorf("Get() #3 error = %v, want %v", err, ErrNetworkTimeout)
		}
	})

	t.Run("object failures start after the threshold", func(t *testing.T) {
		t.Parallel()

		c := newFailingClient(t, &FailureConfig{
			OnCreate: FailObjAfterNCalls(1, ErrInjected),
		})

		ctx := context.Background()
		if err := c.Create(ctx, tenantObj("acme")); err != nil {
			t.Fatalf("first Create() error = %v, want nil", err)
		}
		if err := c.Create(ctx, tenantObj("globex")); !errors.Is(err, ErrInjected) {
			t.Errorf("second Create() error = %v, want %v", err, ErrInjected)
		}
	})
}

func TestAlwaysFail(t *testing.T) {
	t.Parallel()

	// AlwaysFail is shape-agnostic so one helper covers objects, keys, and
	// lists alike.
	fn := AlwaysFail(ErrInjected)
	if err := fn(tenantObj("acme")); !errors.Is(err, ErrInjected) {
		t.Errorf("object error = %v, want %v", err, ErrInjected)
	}
	if err := fn(client.ObjectKey{Name: "acme-db-credentials", Namespace: "tenant-acme"}); !errors.Is(err, ErrInjected) {
		t.Errorf("key error = %v, want %v", err, ErrInjected)
	}
	if err := fn(&tenantv1alpha1.TenantList{}); !errors.Is(err, ErrInjected) {
		t.Errorf("list error = %v, want %v", err, ErrInjected)
	}
}

func TestWriteCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := fake.NewClientBuilder().
		WithScheme(newScheme(t)).
		WithStatusSubresource(&tenantv1alpha1.Tenant{}).
		Build()
	w := NewWriteCounter(base)

	if w.Writes() != 0 {
		t.Fatalf("fresh counter Writes() = %d, want 0", w.Writes())
	}

	tenant := tenantObj("acme")
	if err := w.Create(ctx, tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tenant.Labels = map[string]string{"tier": "starter"}
	if err := w.Update(ctx, tenant); err != nil {
		t.Fatalf("Update: %v", err)
	}
	tenant.Status.Phase = tenantv1alpha1.PhaseProvisioning
	if err := w.Status().Update(ctx, tenant); err != nil {
		t.Fatalf("Status().Update: %v", err)
	}
	if err := w.Delete(ctx, tenant); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if got := w.Writes(); got != 4 {
		t.Errorf("Writes() = %d, want 4", got)
	}
	if got := w.StatusWrites(); got != 1 {
		t.Errorf("StatusWrites() = %d, want 1", got)
	}

	// Reads never count.
	var tenants tenantv1alpha1.TenantList
	if err := w.List(ctx, &tenants); err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := w.Writes(); got != 4 {
		t.Errorf("Writes() after List = %d, want 4", got)
	}

	w.Reset()
	if w.Writes() != 0 || w.StatusWrites() != 0 {
		t.Errorf("after Reset: Writes() = %d, StatusWrites() = %d, want 0/0",
			w.Writes(), w.StatusWrites())
	}
}

func TestWriteCounterComposesWithFailures(t *testing.T) {
	t.Parallel()

	// The counter wraps the failing client the way reconciler tests stack
	// them: a failed write still counts as an attempt.
	base := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	failing := NewFakeClientWithFailures(base, &FailureConfig{
		OnCreate: FailOnObjectName("acme", ErrInjected),
	})
	w := NewWriteCounter(failing)

	err := w.Create(context.Background(), tenantObj("acme"))
	if !errors.Is(err, ErrInjected) {
		t.Fatalf("Create() error = %v, want %v", err, ErrInjected)
	}
	if got := w.Writes(); got != 1 {
		t.Errorf("Writes() = %d, want 1", got)
	}
}
