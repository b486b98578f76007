package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateCA(t *testing.T) {
	tmpDir := t.TempDir()

	err := GenerateCA(tmpDir, 365)
	if err != nil {
		t.Fatalf("GenerateCA failed: %v", err)
	}

	// Check ca.crt exists
	certPath := filepath.Join(tmpDir, "ca.crt")
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("failed to read ca.crt: %v", err)
	}

	// Check ca.key exists
	keyPath := filepath.Join(tmpDir, "ca.key")
	if _, err := os.Stat(keyPath); err != nil {
		t.Fatalf("failed to stat ca.key: %v", err)
	}

	// Verify certificate is valid
	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if !cert.IsCA {
		t.Error("certificate is not a CA")
	}

	if cert.Subject.CommonName != "BuildGate CA" {
		t.Errorf("unexpected CN: got %s, want BuildGate CA", cert.Subject.CommonName)
	}
}

func TestLoadCA(t *testing.T) {
	tmpDir := t.TempDir()

	if err := GenerateCA(tmpDir, 365); err != nil {
		t.Fatalf("GenerateCA failed: %v", err)
	}

	cert, key, err := LoadCA(tmpDir)
	if err != nil {
		t.Fatalf("LoadCA failed: %v", err)
	}

	if cert == nil || key == nil {
		t.Fatal("LoadCA returned nil cert or key")
	}

	if !cert.IsCA {
		t.Error("loaded certificate is not a CA")
	}
}

func TestLoadCA_MissingFiles(t *testing.T) {
	if _, _, err := LoadCA(t.TempDir()); err == nil {
		t.Error("expected error for missing CA files")
	}
}

func TestGenerateServerCert(t *testing.T) {
	tmpDir := t.TempDir()
	caDir := filepath.Join(tmpDir, "ca")
	certDir := filepath.Join(tmpDir, "certs")

	if err := GenerateCA(caDir, 365); err != nil {
		t.Fatalf("GenerateCA failed: %v", err)
	}

	err := GenerateServerCert(caDir, "gate", certDir, 90, []string{"gate.example.org"})
	if err != nil {
		t.Fatalf("GenerateServerCert failed: %v", err)
	}

	certPEM, err := os.ReadFile(filepath.Join(certDir, "gate.crt"))
	if err != nil {
		t.Fatalf("failed to read gate.crt: %v", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	// Chain verifies against the issuing CA
	caCert, _, err := LoadCA(caDir)
	if err != nil {
		t.Fatalf("LoadCA failed: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	if _, err := cert.Verify(x509.VerifyOptions{Roots: pool}); err != nil {
		t.Errorf("certificate does not verify against CA: %v", err)
	}

	// Requested host and localhost are both in the SAN
	for _, want := range []string{"gate.example.org", "localhost"} {
		found := false
		for _, name := range cert.DNSNames {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("SAN missing %s, got %v", want, cert.DNSNames)
		}
	}

	// The pair loads as server TLS material
	if _, err := tls.LoadX509KeyPair(
		filepath.Join(certDir, "gate.crt"),
		filepath.Join(certDir, "gate.key"),
	); err != nil {
		t.Errorf("LoadX509KeyPair failed: %v", err)
	}
}

func TestGenerateServerCert_MissingCA(t *testing.T) {
	tmpDir := t.TempDir()
	err := GenerateServerCert(filepath.Join(tmpDir, "nope"), "gate", tmpDir, 90, nil)
	if err == nil {
		t.Error("expected error when CA is missing")
	}
}
