package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writePKI writes a self-signed CA and a leaf certificate signed by it into dir.
func writePKI(t *testing.T, dir string) Config {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "compressord-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA: %v", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caTmpl, &leafKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create leaf: %v", err)
	}
	leafKeyDER, err := x509.MarshalECPrivateKey(leafKey)
	if err != nil {
		t.Fatalf("marshal leaf key: %v", err)
	}

	cfg := Config{
		Enabled:  true,
		CertFile: filepath.Join(dir, "tls.crt"),
		KeyFile:  filepath.Join(dir, "tls.key"),
		CAFile:   filepath.Join(dir, "ca.crt"),
	}
	writePEM(t, cfg.CAFile, "CERTIFICATE", caDER)
	writePEM(t, cfg.CertFile, "CERTIFICATE", leafDER)
	writePEM(t, cfg.KeyFile, "EC PRIVATE KEY", leafKeyDER)
	return cfg
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := writePKI(t, t.TempDir())

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"valid", valid, false},
		{"missing paths", Config{Enabled: true}, true},
		{"missing file", Config{Enabled: true, CertFile: valid.CertFile, KeyFile: valid.KeyFile, CAFile: "/nonexistent/ca.crt"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got err=%v", tt.wantErr, err)
			}
		})
	}
}

func TestNewServerTLSConfig(t *testing.T) {
	cfg := writePKI(t, t.TempDir())

	serverCfg, err := cfg.Server()
	if err != nil {
		t.Fatalf("Server(): %v", err)
	}
	if serverCfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %x, want TLS 1.3", serverCfg.MinVersion)
	}
	if serverCfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", serverCfg.ClientAuth)
	}
	if len(serverCfg.Certificates) != 1 {
		t.Errorf("expected server certificate to be loaded")
	}
}

func TestNewClientTLSConfig(t *testing.T) {
	cfg := writePKI(t, t.TempDir())

	clientCfg, err := cfg.Client()
	if err != nil {
		t.Fatalf("Client(): %v", err)
	}
	if clientCfg.RootCAs == nil {
		t.Error("RootCAs not set")
	}
	if len(clientCfg.Certificates) != 1 {
		t.Error("client certificate not loaded")
	}
}

func TestDisabledConfigReturnsNil(t *testing.T) {
	var cfg Config
	if c, err := cfg.Server(); c != nil || err != nil {
		t.Errorf("Server() = %v, %v; want nil, nil", c, err)
	}
	if c, err := cfg.Client(); c != nil || err != nil {
		t.Errorf("Client() = %v, %v; want nil, nil", c, err)
	}
}

func TestInvalidCA(t *testing.T) {
	cfg := writePKI(t, t.TempDir())
	if err := os.WriteFile(cfg.CAFile, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewClientTLSConfig(cfg.CertFile, cfg.KeyFile, cfg.CAFile); err == nil {
		t.Error("expected error for unparsable CA")
	}
}
