package cert

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestGenerateCA(t *testing.T) {
	t.Parallel()

	ca, err := GenerateCA()
	if err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}

	if !ca.Cert.IsCA {
		t.Error("generated certificate is not a CA")
	}
	if err := ca.Cert.CheckSignatureFrom(ca.Cert); err != nil {
		t.Errorf("CA is not self-signed: %v", err)
	}
	if got := ca.Cert.Subject.Organization; len(got) != 1 || got[0] != Organization {
		t.Errorf("organization = %v, want [%s]", got, Organization)
	}

	block, _ := pem.Decode(ca.CertPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Error("CertPEM is not a PEM certificate block")
	}
	block, _ = pem.Decode(ca.KeyPEM)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		t.Error("KeyPEM is not an EC private key block")
	}
}

func TestGenerateServerCert(t *testing.T) {
	t.Parallel()

	ca, err := GenerateCA()
	if err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}

	dnsNames := []string{
		"tenant-operator-webhook-service",
		"tenant-operator-webhook-service.rezenkai-system",
		"tenant-operator-webhook-service.rezenkai-system.svc",
		"tenant-operator-webhook-service.rezenkai-system.svc.cluster.local",
	}
	srv, err := GenerateServerCert(
		ca,
		"tenant-operator-webhook-service.rezenkai-system.svc",
		dnsNames,
	)
	if err != nil {
		t.Fatalf("GenerateServerCert() error = %v", err)
	}

	block, _ := pem.Decode(srv.CertPEM)
	if block == nil {
		t.Fatal("server CertPEM is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parsing server cert: %v", err)
	}

	if err := cert.CheckSignatureFrom(ca.Cert); err != nil {
		t.Errorf("server cert not signed by CA: %v", err)
	}
	if len(cert.DNSNames) != len(dnsNames) {
		t.Errorf("DNSNames = %v, want %v", cert.DNSNames, dnsNames)
	}
	if len(cert.ExtKeyUsage) != 1 || cert.ExtKeyUsage[0] != x509.ExtKeyUsageServerAuth {
		t.Errorf("ExtKeyUsage = %v, want [ServerAuth]", cert.ExtKeyUsage)
	}
}

func TestGenerateServerCert_NilCA(t *testing.T) {
	t.Parallel()

	if _, err := GenerateServerCert(nil, "cn", nil); err == nil {
		t.Fatal("expected error for nil CA")
	}
}

func TestParseCA(t *testing.T) {
	t.Parallel()

	ca, err := GenerateCA()
	if err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}

	parsed, err := ParseCA(ca.CertPEM, ca.KeyPEM)
	if err != nil {
		t.Fatalf("ParseCA() error = %v", err)
	}
	if !parsed.Cert.Equal(ca.Cert) {
		t.Error("parsed CA cert does not match original")
	}

	// Parsed CA must still be able to sign.
	if _, err := GenerateServerCert(parsed, "cn", []string{"cn"}); err != nil {
		t.Errorf("signing with parsed CA: %v", err)
	}
}

func TestParseCA_Invalid(t *testing.T) {
	t.Parallel()

	ca, err := GenerateCA()
	if err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}

	tests := map[string]struct {
		certPEM []byte
		keyPEM  []byte
	}{
		"garbage cert":  {certPEM: []byte("not pem"), keyPEM: ca.KeyPEM},
		"garbage key":   {certPEM: ca.CertPEM, keyPEM: []byte("not pem")},
		"empty inputs":  {certPEM: nil, keyPEM: nil},
		"swapped pairs": {certPEM: ca.KeyPEM, keyPEM: ca.CertPEM},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseCA(tc.certPEM, tc.keyPEM); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
