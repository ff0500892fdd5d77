// Package cert handles the lifecycle of the TLS certificates backing the
// admission webhook server.
//
// It supports two modes of operation:
//
//  1. Self-Signed (Auto-Bootstrap & Rotation):
//     The package generates a Root CA and a server certificate in-memory,
//     persists them to Kubernetes Secrets, and writes the serving pair to the
//     local filesystem for controller-runtime. The CA bundle is handed to a
//     PostReconcileHook so the caller can patch it into the
//     WebhookConfigurations.
//
//     This mode handles AUTOMATIC ROTATION. The rotator checks the expiration
//     of the stored certificates on every pass. Material that is expired,
//     corrupt, signed by a stale CA, or within the rotation threshold
//     (30 days) is regenerated and re-persisted.
//
//  2. External (e.g., cert-manager):
//     Certificates are provisioned by an external controller and mounted into
//     the container. The package is not used at all; the webhook server just
//     reads the mounted directory.
//
// Usage:
//
//	rotator := cert.NewRotator(client, recorder, options)
//	if err := rotator.Bootstrap(ctx); err != nil {
//	    // handle error
//	}
//	_ = mgr.Add(rotator) // background rotation
package cert
