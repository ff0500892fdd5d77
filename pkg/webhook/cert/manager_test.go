package cert

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/rezenkai/tenant-operator/pkg/envtestutil"
)

const testNamespace = "rezenkai-system"

func testOptions(certDir string) Options {
	return Options{
		Namespace:   testNamespace,
		ServiceName: "tenant-operator-webhook-service",
		CertDir:     certDir,
	}
}

func freshCA(tb testing.TB) *CAArtifacts {
	tb.Helper()
	ca, err := GenerateCA()
	if err != nil {
		tb.Fatal(err)
	}
	return ca
}

func freshServerCert(tb testing.TB, ca *CAArtifacts) []byte {
	tb.Helper()
	srv, err := GenerateServerCert(ca, "tenant-operator-webhook-service."+testNamespace+".svc", nil)
	if err != nil {
		tb.Fatal(err)
	}
	return srv.CertPEM
}

// expiringLeafPEM signs a bare leaf cert against ca with an arbitrary expiry,
// which GenerateServerCert cannot produce.
func expiringLeafPEM(tb testing.TB, ca *CAArtifacts, notAfter time.Time) []byte {
	tb.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatal(err)
	}

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "server"},
		NotBefore:    time.Now().Add(-2 * time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{"tenant-operator-webhook-service." + testNamespace + ".svc"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, ca.Cert, &priv.PublicKey, ca.Key)
	if err != nil {
		tb.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func caSecret(ca *CAArtifacts) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: CASecretName, Namespace: testNamespace},
		Data: map[string][]byte{
			"ca.crt": ca.CertPEM,
			"ca.key": ca.KeyPEM,
		},
	}
}

func serverSecret(certPEM []byte) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: ServerSecretName, Namespace: testNamespace},
		Type:       corev1.SecretTypeTLS,
		Data: map[string][]byte{
			"tls.crt": certPEM,
			"tls.key": []byte("key"),
		},
	}
}

func TestCertRotator_Bootstrap(t *testing.T) {
	t.Parallel()

	s := runtime.NewScheme()
	_ = scheme.AddToScheme(s)

	ca := freshCA(t)
	otherCA := freshCA(t)

	validCert := freshServerCert(t, ca)
	expiredCert := expiringLeafPEM(t, ca, time.Now().Add(-1*time.Hour))
	nearExpiryCert := expiringLeafPEM(t, ca, time.Now().Add(15*24*time.Hour))
	foreignCert := freshServerCert(t, otherCA)

	tests := map[string]struct {
		existingObjects []client.Object
		failureConfig   *envtestutil.FailureConfig
		wantErr         string
		wantRotated     bool
	}{
		"fresh install generates everything": {
			wantRotated: true,
		},
		"valid material is left alone": {
			existingObjects: []client.Object{caSecret(ca), serverSecret(validCert)},
		},
		"expired server cert rotates": {
			existingObjects: []client.Object{caSecret(ca), serverSecret(expiredCert)},
			wantRotated:     true,
		},
		"near-expiry server cert rotates": {
			existingObjects: []client.Object{caSecret(ca), serverSecret(nearExpiryCert)},
			wantRotated:     true,
		},
		"cert signed by stale CA rotates": {
			existingObjects: []client.Object{caSecret(ca), serverSecret(foreignCert)},
			wantRotated:     true,
		},
		"corrupt server cert is recreated": {
			existingObjects: []client.Object{caSecret(ca), serverSecret([]byte("not pem"))},
			wantRotated:     true,
		},
		"corrupt CA secret is recreated": {
			existingObjects: []client.Object{
				&corev1.Secret{
					ObjectMeta: metav1.ObjectMeta{Name: CASecretName, Namespace: testNamespace},
					Data:       map[string][]byte{"ca.crt": []byte("corrupt"), "ca.key": ca.KeyPEM},
				},
			},
			wantRotated: true,
		},
		"error getting CA secret": {
			failureConfig: &envtestutil.FailureConfig{
				OnGet: envtestutil.FailOnKeyName(CASecretName, errors.New("injected get error")),
			},
			wantErr: "injected get error",
		},
		"error creating CA secret": {
			failureConfig: &envtestutil.FailureConfig{
				OnCreate: envtestutil.FailOnObjectName(CASecretName, errors.New("boom")),
			},
			wantErr: "failed to create CA secret",
		},
		"error creating server secret": {
			existingObjects: []client.Object{caSecret(ca)},
			failureConfig: &envtestutil.FailureConfig{
				OnCreate: envtestutil.FailOnObjectName(ServerSecretName, errors.New("boom")),
			},
			wantErr: "failed to create server cert secret",
		},
		"error updating server secret on rotation": {
			existingObjects: []client.Object{caSecret(ca), serverSecret(expiredCert)},
			failureConfig: &envtestutil.FailureConfig{
				OnUpdate: envtestutil.FailOnObjectName(ServerSecretName, errors.New("boom")),
			},
			wantErr: "failed to update server cert secret",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			base := fake.NewClientBuilder().
				WithScheme(s).
				WithObjects(tc.existingObjects...).
				Build()
			var cl client.Client = base
			if tc.failureConfig != nil {
				cl = envtestutil.NewFakeClientWithFailures(base, tc.failureConfig)
			}

			certDir := t.TempDir()
			rotator := NewRotator(cl, record.NewFakeRecorder(10), testOptions(certDir))

			err := rotator.Bootstrap(context.Background())
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("Bootstrap() error = %v, want substring %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Bootstrap() error = %v", err)
			}

			// The serving pair must be on disk for the webhook server.
			diskCert, err := os.ReadFile(filepath.Join(certDir, CertFileName))
			if err != nil {
				t.Fatalf("reading cert from disk: %v", err)
			}

			secret := &corev1.Secret{}
			if err := base.Get(context.Background(), types.NamespacedName{
				Name: ServerSecretName, Namespace: testNamespace,
			}, secret); err != nil {
				t.Fatalf("getting server secret: %v", err)
			}
			if !bytes.Equal(diskCert, secret.Data["tls.crt"]) {
				t.Error("cert on disk does not match the Secret")
			}

			var original []byte
			for _, obj := range tc.existingObjects {
				if s, ok := obj.(*corev1.Secret); ok && s.Name == ServerSecretName {
					original = s.Data["tls.crt"]
				}
			}
			rotated := len(original) == 0 || !bytes.Equal(secret.Data["tls.crt"], original)
			if rotated != tc.wantRotated {
				t.Errorf("rotated = %v, want %v", rotated, tc.wantRotated)
			}
		})
	}
}

func TestCertRotator_PostReconcileHook(t *testing.T) {
	t.Parallel()

	s := runtime.NewScheme()
	_ = scheme.AddToScheme(s)

	t.Run("hook receives the CA bundle", func(t *testing.T) {
		t.Parallel()

		var hookCalled atomic.Bool
		var bundle []byte

		cl := fake.NewClientBuilder().WithScheme(s).Build()
		opts := testOptions(t.TempDir())
		opts.PostReconcileHook = func(_ context.Context, caBundle []byte) error {
			hookCalled.Store(true)
			bundle = caBundle
			return nil
		}

		rotator := NewRotator(cl, record.NewFakeRecorder(10), opts)
		if err := rotator.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		if !hookCalled.Load() {
			t.Fatal("PostReconcileHook was not called")
		}
		if block, _ := pem.Decode(bundle); block == nil {
			t.Error("hook received a CA bundle that is not PEM")
		}
	})

	t.Run("hook error propagates", func(t *testing.T) {
		t.Parallel()

		cl := fake.NewClientBuilder().WithScheme(s).Build()
		opts := testOptions(t.TempDir())
		opts.PostReconcileHook = func(_ context.Context, _ []byte) error {
			return errors.New("hook failure")
		}

		rotator := NewRotator(cl, record.NewFakeRecorder(10), opts)
		err := rotator.Bootstrap(context.Background())
		if err == nil || !strings.Contains(err.Error(), "post-reconcile hook failed") {
			t.Fatalf("Bootstrap() error = %v, want hook failure", err)
		}
	})
}

func TestCertRotator_OwnerReference(t *testing.T) {
	t.Parallel()

	s := runtime.NewScheme()
	_ = scheme.AddToScheme(s)

	owner := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "tenant-operator",
			Namespace: testNamespace,
			UID:       "owner-uid",
		},
	}

	cl := fake.NewClientBuilder().WithScheme(s).WithObjects(owner).Build()
	opts := testOptions(t.TempDir())
	opts.Owner = owner

	rotator := NewRotator(cl, record.NewFakeRecorder(10), opts)
	if err := rotator.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	for _, name := range []string{CASecretName, ServerSecretName} {
		secret := &corev1.Secret{}
		if err := cl.Get(context.Background(), types.NamespacedName{
			Name: name, Namespace: testNamespace,
		}, secret); err != nil {
			t.Fatalf("getting %s: %v", name, err)
		}
		if len(secret.OwnerReferences) != 1 || secret.OwnerReferences[0].UID != "owner-uid" {
			t.Errorf("secret %s owner refs = %v, want operator deployment", name, secret.OwnerReferences)
		}
	}
}

func TestCertRotator_StartStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s := runtime.NewScheme()
	_ = scheme.AddToScheme(s)
	cl := fake.NewClientBuilder().WithScheme(s).Build()

	opts := testOptions(t.TempDir())
	opts.RotationInterval = 10 * time.Millisecond

	rotator := NewRotator(cl, record.NewFakeRecorder(10), opts)
	if err := rotator.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := rotator.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
