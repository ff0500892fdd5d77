package cert

// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=admissionregistration.k8s.io,resources=mutatingwebhookconfigurations,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=admissionregistration.k8s.io,resources=validatingwebhookconfigurations,verbs=get;list;watch;update;patch

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// CASecretName is the Secret holding the CA certificate and key.
	CASecretName = "tenant-operator-ca" //nolint:gosec // K8s resource name, not a credential

	// ServerSecretName is the Secret holding the webhook serving pair.
	ServerSecretName = "tenant-operator-webhook-certs" //nolint:gosec // K8s resource name, not a credential

	// CertFileName is the certificate file expected by controller-runtime.
	CertFileName = "tls.crt"
	// KeyFileName is the key file expected by controller-runtime.
	KeyFileName = "tls.key"

	// RotationThreshold is the buffer before expiry at which certs are rotated (30 days).
	RotationThreshold = 30 * 24 * time.Hour
)

// Options configures the CertRotator behavior.
type Options struct {
	// Namespace is where the operator (and its webhook Service) runs.
	Namespace string
	// ServiceName is the name of the webhook Service, used for cert SANs.
	ServiceName string
	// CertDir is where the serving pair is written for the webhook server.
	CertDir string

	// Owner is an optional object to set as the controller owner reference on
	// the generated secrets, so they are garbage-collected with the operator.
	// When nil, secrets are created without an owner reference.
	Owner client.Object

	// RotationInterval is how often the background rotation loop runs.
	// Defaults to 1 hour.
	RotationInterval time.Duration

	// PostReconcileHook is called after the CA and server cert have been
	// ensured, with the CA bundle PEM bytes. Used to patch the CA bundle into
	// the WebhookConfigurations. If nil, no hook is called.
	PostReconcileHook func(ctx context.Context, caBundle []byte) error
}

// CertRotator manages certificate lifecycle: creation, rotation, and the
// post-reconcile hook. It implements the controller-runtime Runnable
// interface for background rotation.
type CertRotator struct {
	Client   client.Client
	Recorder record.EventRecorder
	Options  Options
}

// NewRotator creates a CertRotator with the provided client, recorder, and options.
func NewRotator(c client.Client, recorder record.EventRecorder, opts Options) *CertRotator {
	return &CertRotator{
		Client:   c,
		Recorder: recorder,
		Options:  opts,
	}
}

// Bootstrap runs at startup to ensure the PKI is healthy and the serving pair
// is on disk before the webhook server starts.
func (m *CertRotator) Bootstrap(ctx context.Context) error {
	logger := log.FromContext(ctx)
	logger.Info("bootstrapping webhook PKI")

	if err := os.MkdirAll(m.Options.CertDir, 0o750); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	return m.reconcilePKI(ctx)
}

// Start runs the background rotation loop. It blocks until ctx is cancelled.
func (m *CertRotator) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("pki-rotation")
	logger.Info("starting PKI rotation loop")

	interval := m.Options.RotationInterval
	if interval == 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.reconcilePKI(ctx); err != nil {
				logger.Error(err, "periodic PKI reconciliation failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// reconcilePKI is the main control loop.
// 1. Ensure the CA is valid.
// 2. Ensure the server cert is valid and signed by that CA.
// 3. Write the serving pair to disk.
// 4. Run PostReconcileHook (if set).
func (m *CertRotator) reconcilePKI(ctx context.Context) error {
	ca, err := m.ensureCA(ctx)
	if err != nil {
		return err
	}

	serving, err := m.ensureServerCert(ctx, ca)
	if err != nil {
		return err
	}

	if err := m.writeToDisk(serving); err != nil {
		return fmt.Errorf("failed to write serving pair to disk: %w", err)
	}

	if m.Options.PostReconcileHook != nil {
		if err := m.Options.PostReconcileHook(ctx, ca.CertPEM); err != nil {
			return fmt.Errorf("post-reconcile hook failed: %w", err)
		}
	}

	return nil
}

func (m *CertRotator) ensureCA(ctx context.Context) (*CAArtifacts, error) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      CASecretName,
			Namespace: m.Options.Namespace,
		},
	}

	if err := m.Client.Get(
		ctx,
		types.NamespacedName{Name: CASecretName, Namespace: m.Options.Namespace},
		secret,
	); err != nil {
		if !errors.IsNotFound(err) {
			return nil, fmt.Errorf("failed to get CA secret: %w", err)
		}

		artifacts, err := GenerateCA()
		if err != nil {
			return nil, fmt.Errorf("failed to generate CA: %w", err)
		}

		secret.Data = map[string][]byte{
			"ca.crt": artifacts.CertPEM,
			"ca.key": artifacts.KeyPEM,
		}

		if err := m.setOwner(secret); err != nil {
			return nil, fmt.Errorf("failed to set owner for CA secret: %w", err)
		}

		if err := m.Client.Create(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to create CA secret: %w", err)
		}

		m.recorderEvent(secret, "Normal", "Generated", "Generated new webhook CA certificate")
		return artifacts, nil
	}

	artifacts, err := ParseCA(secret.Data["ca.crt"], secret.Data["ca.key"])
	if err != nil {
		log.FromContext(ctx).Error(err, "CA secret is corrupt, recreating")
		if err := m.Client.Delete(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to delete corrupt CA secret: %w", err)
		}
		return m.ensureCA(ctx)
	}

	if time.Until(artifacts.Cert.NotAfter) < RotationThreshold {
		log.FromContext(ctx).Info("CA is near expiry, rotating")
		if err := m.Client.Delete(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to delete expiring CA secret: %w", err)
		}
		return m.ensureCA(ctx)
	}

	return artifacts, nil
}

func (m *CertRotator) ensureServerCert(
	ctx context.Context,
	ca *CAArtifacts,
) (*ServerArtifacts, error) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ServerSecretName,
			Namespace: m.Options.Namespace,
		},
	}

	commonName := fmt.Sprintf("%s.%s.svc", m.Options.ServiceName, m.Options.Namespace)
	dnsNames := []string{
		m.Options.ServiceName,
		fmt.Sprintf("%s.%s", m.Options.ServiceName, m.Options.Namespace),
		commonName,
		commonName + ".cluster.local",
	}

	if err := m.Client.Get(
		ctx,
		types.NamespacedName{Name: ServerSecretName, Namespace: m.Options.Namespace},
		secret,
	); err != nil {
		if !errors.IsNotFound(err) {
			return nil, fmt.Errorf("failed to get server cert secret: %w", err)
		}

		artifacts, err := GenerateServerCert(ca, commonName, dnsNames)
		if err != nil {
			return nil, fmt.Errorf("failed to generate server cert: %w", err)
		}

		secret.Type = corev1.SecretTypeTLS
		secret.Data = map[string][]byte{
			"tls.crt": artifacts.CertPEM,
			"tls.key": artifacts.KeyPEM,
		}

		if err := m.setOwner(secret); err != nil {
			return nil, fmt.Errorf("failed to set owner for server cert secret: %w", err)
		}

		if err := m.Client.Create(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to create server cert secret: %w", err)
		}

		m.recorderEvent(secret, "Normal", "Generated", "Generated new webhook server certificate")
		return artifacts, nil
	}

	certBlock, _ := pem.Decode(secret.Data["tls.crt"])
	if certBlock == nil {
		log.FromContext(ctx).Error(nil, "server cert secret is corrupt, recreating")
		if err := m.Client.Delete(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to delete corrupt server cert secret: %w", err)
		}
		return m.ensureServerCert(ctx, ca)
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		log.FromContext(ctx).Error(err, "failed to parse server cert, recreating")
		if err := m.Client.Delete(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to delete unparseable server cert secret: %w", err)
		}
		return m.ensureServerCert(ctx, ca)
	}

	needsRotation := time.Until(cert.NotAfter) < RotationThreshold
	if !needsRotation {
		// A cert signed by a previous CA is useless once the bundle rotates.
		if err := cert.CheckSignatureFrom(ca.Cert); err != nil {
			log.FromContext(ctx).Info("server cert was not signed by current CA, rotating")
			needsRotation = true
		}
	}

	if needsRotation {
		srv, err := GenerateServerCert(ca, commonName, dnsNames)
		if err != nil {
			return nil, fmt.Errorf("failed to generate new server cert: %w", err)
		}
		secret.Data = map[string][]byte{
			"tls.crt": srv.CertPEM,
			"tls.key": srv.KeyPEM,
		}
		if err := m.Client.Update(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to update server cert secret: %w", err)
		}
		m.recorderEvent(secret, "Normal", "Rotated", "Rotated webhook server certificate")
		return srv, nil
	}

	return &ServerArtifacts{
		CertPEM: secret.Data["tls.crt"],
		KeyPEM:  secret.Data["tls.key"],
	}, nil
}

func (m *CertRotator) writeToDisk(serving *ServerArtifacts) error {
	certPath := filepath.Join(m.Options.CertDir, CertFileName)
	keyPath := filepath.Join(m.Options.CertDir, KeyFileName)

	if onDisk, err := os.ReadFile(certPath); err == nil { //nolint:gosec // path is from trusted config
		if string(onDisk) == string(serving.CertPEM) {
			return nil
		}
	}

	if err := os.WriteFile(certPath, serving.CertPEM, 0o644); err != nil { //nolint:gosec // cert is public
		return err
	}
	return os.WriteFile(keyPath, serving.KeyPEM, 0o600)
}

func (m *CertRotator) setOwner(secret *corev1.Secret) error {
	if m.Options.Owner == nil {
		return nil
	}

	if err := controllerutil.SetControllerReference(
		m.Options.Owner,
		secret,
		m.Client.Scheme(),
	); err != nil {
		return fmt.Errorf("failed to set controller reference: %w", err)
	}
	return nil
}

func (m *CertRotator) recorderEvent(object runtime.Object, eventtype, reason, message string) {
	if m.Recorder != nil && object != nil {
		m.Recorder.AnnotatedEventf(object, nil, eventtype, reason, message)
	}
}
