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

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"path/filepath"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	tenantcontroller "github.com/rezenkai/tenant-operator/pkg/controller/tenant"
	"github.com/rezenkai/tenant-operator/pkg/discovery"
	"github.com/rezenkai/tenant-operator/pkg/health"
	"github.com/rezenkai/tenant-operator/pkg/monitoring"
	tenantwebhook "github.com/rezenkai/tenant-operator/pkg/webhook"
	"github.com/rezenkai/tenant-operator/pkg/webhook/cert"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

// version is stamped at build time via -ldflags.
var version = "dev"

// requestBufferSize bounds the shared reconcile-nudge channel. Sends are
// non-blocking, so a full buffer drops nudges and the resync period heals.
const requestBufferSize = 128

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(tenantv1alpha1.AddToScheme(scheme))
	utilruntime.Must(admissionregistrationv1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	var metricsAddr string
	var enableLeaderElection bool
	var probeAddr string
	var secureMetrics bool
	var enableHTTP2 bool
	var tlsOpts []func(*tls.Config)

	// Webhook Flags
	var webhookEnabled bool
	var webhookPort int
	var webhookCertDir string
	var webhookServiceNamespace string
	var webhookServiceName string
	var operatorDeployment string

	// Reconciliation Flags
	var syncPeriod time.Duration
	var maxProvisionAttempts int
	var healthInterval time.Duration
	var healthProbeTimeout time.Duration

	defaultNS := os.Getenv("POD_NAMESPACE")
	if defaultNS == "" {
		defaultNS = "rezenkai-system"
	}

	// General Flags
	flag.StringVar(&metricsAddr, "metrics-bind-address", "0", "The address the metrics endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false, "Enable leader election for controller manager.")
	flag.BoolVar(&secureMetrics, "metrics-secure", true, "If set, the metrics endpoint is served securely via HTTPS.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false, "If set, HTTP/2 will be enabled for the metrics and webhook servers")

	// Webhook Flag Configuration
	flag.BoolVar(&webhookEnabled, "webhook-enable", true, "Enable the admission webhook server")
	flag.IntVar(&webhookPort, "webhook-port", 9443, "Port the admission webhook server binds to")
	flag.StringVar(&webhookCertDir, "webhook-cert-dir", "/var/run/secrets/webhook", "Directory to store/read webhook certificates")
	flag.StringVar(&webhookServiceNamespace, "webhook-service-namespace", defaultNS, "Namespace where the webhook service resides")
	flag.StringVar(&webhookServiceName, "webhook-service-name", "tenant-operator-webhook-service", "Name of the Kubernetes Service for the webhook")
	flag.StringVar(&operatorDeployment, "operator-deployment", "tenant-operator-controller-manager", "Name of the operator Deployment owning certificate secrets")

	// Reconciliation Tuning
	flag.DurationVar(&syncPeriod, "sync-period", tenantcontroller.DefaultSyncPeriod, "Interval between drift-healing resyncs of each tenant")
	flag.IntVar(&maxProvisionAttempts, "max-provision-attempts", tenantcontroller.DefaultMaxProvisionAttempts, "Consecutive provisioning failures before a tenant is marked Failed")
	flag.DurationVar(&healthInterval, "health-interval", 30*time.Second, "Interval between tenant health sweeps")
	flag.DurationVar(&healthProbeTimeout, "health-probe-timeout", 3*time.Second, "Timeout for each individual health probe")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	shutdownTracing, err := monitoring.InitTracing(context.Background(), "tenant-operator", version)
	if err != nil {
		setupLog.Error(err, "unable to initialize tracing")
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			setupLog.Error(err, "failed to flush traces")
		}
	}()

	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}

	if secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	// If cert files already exist on disk (e.g. mounted by cert-manager),
	// skip internal generation and rotation.
	certStrategy := "external"
	if webhookEnabled && !certsExist(webhookCertDir) {
		setupLog.Info("webhook certificates not found on disk; enabling internal certificate rotation")
		certStrategy = tenantwebhook.CertStrategySelfSigned
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "tenant-operator.rezenkai.com",
		WebhookServer: ctrlwebhook.NewServer(ctrlwebhook.Options{
			Port:    webhookPort,
			CertDir: webhookCertDir,
			TLSOpts: tlsOpts,
		}),
		Client: client.Options{
			// Disable caching for resources we need during bootstrap/cert rotation
			Cache: &client.CacheOptions{
				DisableFor: []client.Object{
					&corev1.Secret{},
					&appsv1.Deployment{},
					&admissionregistrationv1.MutatingWebhookConfiguration{},
					&admissionregistrationv1.ValidatingWebhookConfiguration{},
				},
			},
		},
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	// Shared nudge channel: discovery and the health monitor push, the
	// tenant controller consumes.
	requests := make(chan event.GenericEvent, requestBufferSize)

	registry := discovery.NewRegistry()

	watcher := &discovery.Watcher{
		Client:   mgr.GetClient(),
		Registry: registry,
		Requests: requests,
	}
	if err := watcher.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create discovery watcher")
		os.Exit(1)
	}

	monitor := health.NewMonitor(mgr.GetClient(), registry, health.Options{
		Interval:     healthInterval,
		ProbeTimeout: healthProbeTimeout,
		Requests:     requests,
	})
	if err := mgr.Add(monitor); err != nil {
		setupLog.Error(err, "unable to add health monitor")
		os.Exit(1)
	}

	if err := (&tenantcontroller.TenantReconciler{
		Client:               mgr.GetClient(),
		Scheme:               mgr.GetScheme(),
		Recorder:             mgr.GetEventRecorderFor("tenant-controller"),
		Discovery:            registry,
		Health:               monitor,
		Requests:             requests,
		SyncPeriod:           syncPeriod,
		MaxProvisionAttempts: maxProvisionAttempts,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Tenant")
		os.Exit(1)
	}

	if webhookEnabled {
		if err := tenantwebhook.Setup(mgr, tenantwebhook.Options{
			Enable:         true,
			CertStrategy:   certStrategy,
			CertDir:        webhookCertDir,
			Namespace:      webhookServiceNamespace,
			ServiceName:    webhookServiceName,
			DeploymentName: operatorDeployment,
		}); err != nil {
			setupLog.Error(err, "unable to set up webhook")
			os.Exit(1)
		}
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func certsExist(dir string) bool {
	_, errCrt := os.Stat(filepath.Join(dir, cert.CertFileName))
	_, errKey := os.Stat(filepath.Join(dir, cert.KeyFileName))
	return !os.IsNotExist(errCrt) && !os.IsNotExist(errKey)
}
