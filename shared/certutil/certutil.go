// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package certutil generates the self-signed certificate the Connector's
// P2P QUIC server role presents to Agents dialing it directly, and the
// disposable certificates tests across the module use to stand up a QUIC
// listener without touching the filesystem. Grounded in the generateTLSConfig
// helper retrieved pattern for QUIC peer-to-peer listeners, adapted to load
// from disk when the Connector config supplies a cert/key pair instead.
package certutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/openztna/dataplane/internal/security"
	"github.com/openztna/dataplane/internal/wire"
)

// SelfSignedValidity is how long a generated development certificate
// remains valid.
const SelfSignedValidity = 24 * time.Hour

// GenerateSelfSigned produces an in-memory RSA-2048 self-signed certificate
// good for commonName (typically the Connector's P2P listen address or a
// test server name), wired with the module's QUIC ALPN.
func GenerateSelfSigned(commonName string) (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("certutil: generate key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(SelfSignedValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{commonName},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certutil: create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("certutil: assemble keypair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{wire.ALPN},
	}, nil
}

// LoadServerConfig builds the Connector's P2P-listener TLS config from a
// cert/key pair on disk, optionally requiring Agents to present a client
// certificate signed by caPath.
func LoadServerConfig(certPath, keyPath, caPath string, requireClientCert bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certutil: load keypair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{wire.ALPN},
		MinVersion:   tls.VersionTLS12,
	}

	if caPath == "" {
		return cfg, nil
	}

	pool, err := loadCAPool(caPath)
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = pool
	if requireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return cfg, nil
}

// LoadServerConfigSealed is LoadServerConfig for a keyPath whose contents
// are a security.SealKey frame rather than plain PEM: it unseals the key
// with passphrase before assembling the certificate, so the private key
// never needs to sit on disk in the clear.
func LoadServerConfigSealed(certPath, keyPath, passphrase, caPath string, requireClientCert bool) (*tls.Config, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("certutil: read cert %s: %w", certPath, err)
	}
	sealed, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("certutil: read sealed key %s: %w", keyPath, err)
	}
	keyPEM, err := security.UnsealKey(sealed, passphrase, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certutil: unseal key %s: %w", keyPath, err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("certutil: assemble keypair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{wire.ALPN},
		MinVersion:   tls.VersionTLS12,
	}

	if caPath == "" {
		return cfg, nil
	}
	pool, err := loadCAPool(caPath)
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = pool
	if requireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return cfg, nil
}

// ClientConfig builds the TLS config an Agent or Connector uses to dial the
// Intermediate or a peer Connector, verifying the remote certificate
// against caPath when given and presenting certPath/keyPath for mutual TLS.
func ClientConfig(serverName, caPath, certPath, keyPath string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		NextProtos: []string{wire.ALPN},
		MinVersion: tls.VersionTLS12,
	}

	if caPath != "" {
		pool, err := loadCAPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("certutil: load client keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func loadCAPool(caPath string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("certutil: read CA %s: %w", caPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("certutil: no certificates found in %s", caPath)
	}
	return pool, nil
}
