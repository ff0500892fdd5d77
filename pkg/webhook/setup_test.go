package webhook

import (
	"net/http"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/webhook"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
)

// mockManager implements just enough of manager.Manager for Setup.
type mockManager struct {
	manager.Manager
	scheme *runtime.Scheme
	client client.Client
	server *recordingServer
}

func (m *mockManager) GetScheme() *runtime.Scheme       { return m.scheme }
func (m *mockManager) GetClient() client.Client         { return m.client }
func (m *mockManager) GetWebhookServer() webhook.Server { return m.server }
func (m *mockManager) GetLogger() logr.Logger           { return logr.Discard() }
func (m *mockManager) GetConfig() *rest.Config          { return &rest.Config{} }
func (m *mockManager) Add(r manager.Runnable) error     { return nil }

// recordingServer captures the paths handlers are registered under.
type recordingServer struct {
	webhook.Server
	paths []string
}

func (s *recordingServer) Register(path string, handler http.Handler) {
	s.paths = append(s.paths, path)
}

func newMockManager(tb testing.TB) *mockManager {
	tb.Helper()

	scheme := runtime.NewScheme()
	if err := tenantv1alpha1.AddToScheme(scheme); err != nil {
		tb.Fatalf("failed to add tenant scheme: %v", err)
	}

	return &mockManager{
		scheme: scheme,
		client: fake.NewClientBuilder().WithScheme(scheme).Build(),
		server: &recordingServer{},
	}
}

func TestSetup(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		opts      Options
		wantPaths []string
	}{
		"disabled registers nothing": {
			opts: Options{Enable: false},
		},
		"external strategy registers both handlers": {
			opts: Options{
				Enable:       true,
				CertStrategy: "external",
			},
			wantPaths: []string{MutationPath, ValidationPath},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mgr := newMockManager(t)
			if err := Setup(mgr, tc.opts); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			if diff := cmp.Diff(tc.wantPaths, mgr.server.paths); diff != "" {
				t.Errorf("registered paths mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
