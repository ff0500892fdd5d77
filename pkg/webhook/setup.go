// Package webhook provides the entry point for the tenant operator's admission control layer.
//
// This package orchestrates the setup of the controller-runtime webhook server, including:
//
//  1. Certificate Management: It delegates to the 'cert' subpackage to bootstrap and rotate
//     TLS material when the self-signed strategy is selected, and patches the generated CA
//     bundle into the webhook configurations.
//
//  2. Handler Registration: It registers the admission handlers (from the 'handlers'
//     subpackage) to their corresponding API paths (/mutate-..., /validate-...).
//
// Usage:
//
//	if err := webhook.Setup(mgr, opts); err != nil {
//	    setupLog.Error(err, "unable to setup webhook")
//	    os.Exit(1)
//	}
package webhook

import (
	"context"
	"fmt"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/webhook/cert"
	"github.com/rezenkai/tenant-operator/pkg/webhook/handlers"
)

// Options contains the configuration required to set up the webhook server.
type Options struct {
	// Enable indicates whether to start the webhook server.
	Enable bool
	// CertStrategy defines how certificates are managed ("external" or "self-signed").
	CertStrategy string
	// CertDir is the directory where certificates should be read/written.
	CertDir string
	// Namespace is the operator's namespace (required for self-signed strategy).
	Namespace string
	// ServiceName is the operator's service name (required for self-signed strategy).
	ServiceName string
	// DeploymentName is the operator deployment owning the certificate secrets.
	// Secrets are garbage collected with the deployment when it is found.
	DeploymentName string
}

// MutationPath is where the Tenant defaulting webhook is served.
const MutationPath = "/mutate-tenant-rezenkai-com-v1alpha1-tenant"

// ValidationPath is where the Tenant validating webhook is served.
const ValidationPath = "/validate-tenant-rezenkai-com-v1alpha1-tenant"

// Setup configures the webhook server, bootstraps certificates when the
// self-signed strategy is selected, and registers the admission handlers
// with the manager.
func Setup(mgr ctrl.Manager, opts Options) error {
	if !opts.Enable {
		return nil
	}

	logger := mgr.GetLogger().WithName("webhook-setup")
	logger.Info("Setting up webhook server", "strategy", opts.CertStrategy)

	// Certificate management has to finish before the manager starts the
	// webhook server, and the manager's cached client is not usable until
	// then, so bootstrap runs on a direct client.
	if opts.CertStrategy == CertStrategySelfSigned {
		bootClient, err := client.New(mgr.GetConfig(), client.Options{Scheme: mgr.GetScheme()})
		if err != nil {
			return fmt.Errorf("failed to create bootstrap client: %w", err)
		}

		ctx := context.Background()
		owner, err := FindOperatorDeployment(ctx, bootClient, opts.Namespace,
			operatorLabels(), opts.DeploymentName)
		if err != nil {
			return fmt.Errorf("failed to resolve operator deployment: %w", err)
		}

		certOpts := cert.Options{
			Namespace:   opts.Namespace,
			ServiceName: opts.ServiceName,
			CertDir:     opts.CertDir,
			PostReconcileHook: func(ctx context.Context, caBundle []byte) error {
				return PatchWebhookCABundle(ctx, bootClient, caBundle)
			},
		}
		if owner != nil {
			certOpts.Owner = owner
		} else {
			logger.Info("Operator deployment not found, certificate secrets will not be garbage collected")
		}

		rotator := cert.NewRotator(bootClient, mgr.GetEventRecorderFor("tenant-operator-cert"), certOpts)

		if err := rotator.Bootstrap(ctx); err != nil {
			return fmt.Errorf("failed to bootstrap self-signed certificates: %w", err)
		}
		if err := mgr.Add(rotator); err != nil {
			return fmt.Errorf("failed to register certificate rotator: %w", err)
		}
	}

	server := mgr.GetWebhookServer()

	server.Register(
		MutationPath,
		admission.WithCustomDefaulter(mgr.GetScheme(), &tenantv1alpha1.Tenant{},
			handlers.NewTenantDefaulter()),
	)

	server.Register(
		ValidationPath,
		admission.WithCustomValidator(mgr.GetScheme(), &tenantv1alpha1.Tenant{},
			handlers.NewTenantValidator(mgr.GetClient())),
	)

	return nil
}

func operatorLabels() map[string]string {
	return map[string]string{"app.kubernetes.io/name": "tenant-operator"}
}
