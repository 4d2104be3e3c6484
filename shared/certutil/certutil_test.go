// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package certutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openztna/dataplane/internal/security"
	"github.com/openztna/dataplane/internal/wire"
)

func TestGenerateSelfSigned(t *testing.T) {
	cfg, err := GenerateSelfSigned("connector.local")
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, []string{wire.ALPN}, cfg.NextProtos)
}

func TestLoadServerConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeTestKeyPair(t, dir, "svc.local")

	cfg, err := LoadServerConfig(certPath, keyPath, "", false)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, []string{wire.ALPN}, cfg.NextProtos)
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig("/nonexistent/cert.pem", "/nonexistent/key.pem", "", false)
	require.Error(t, err)
}

func TestLoadServerConfigSealedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	certPath, plainKeyPath := writeTestKeyPair(t, dir, "svc.local")

	keyPEM, err := os.ReadFile(plainKeyPath)
	require.NoError(t, err)

	sealedKeyPath := filepath.Join(dir, "key.sealed")
	sealed, err := security.SealKey(keyPEM, "correct horse battery staple", sealedKeyPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sealedKeyPath, sealed, 0o600))

	cfg, err := LoadServerConfigSealed(certPath, sealedKeyPath, "correct horse battery staple", "", false)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, []string{wire.ALPN}, cfg.NextProtos)
}

func TestLoadServerConfigSealedWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	certPath, plainKeyPath := writeTestKeyPair(t, dir, "svc.local")

	keyPEM, err := os.ReadFile(plainKeyPath)
	require.NoError(t, err)

	sealedKeyPath := filepath.Join(dir, "key.sealed")
	sealed, err := security.SealKey(keyPEM, "correct horse battery staple", sealedKeyPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sealedKeyPath, sealed, 0o600))

	_, err = LoadServerConfigSealed(certPath, sealedKeyPath, "wrong passphrase", "", false)
	require.Error(t, err)
}

func TestClientConfigWithoutMutualTLS(t *testing.T) {
	cfg, err := ClientConfig("intermediate.example.com", "", "", "")
	require.NoError(t, err)
	require.Equal(t, "intermediate.example.com", cfg.ServerName)
	require.Empty(t, cfg.Certificates)
}

func TestClientConfigMissingCAFails(t *testing.T) {
	_, err := ClientConfig("intermediate.example.com", "/nonexistent/ca.pem", "", "")
	require.Error(t, err)
}

// writeTestKeyPair generates a standalone RSA keypair and writes PEM-encoded
// cert/key files to dir, exercising LoadServerConfig's disk-loading path
// independently of GenerateSelfSigned's internals.
func writeTestKeyPair(t *testing.T, dir, commonName string) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{commonName},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600))
	return certPath, keyPath
}
