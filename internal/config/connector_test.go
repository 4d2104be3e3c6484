// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validConnectorJSON = `{
  "intermediate": { "host": "relay.example.com", "port": 4433 },
  "p2p": { "listen_port": 4434, "cert_path": "/etc/ztna/p2p.crt", "key_path": "/etc/ztna/p2p.key" },
  "services": [
    { "id": "echo-service",  "backend": "127.0.0.1:9999", "protocol": "udp" },
    { "id": "web-app",       "backend": "127.0.0.1:8080", "protocol": "tcp" },
    { "id": "ping-service",  "protocol": "icmp-local" }
  ],
  "tls": { "ca_path": "/etc/ztna/ca.crt", "require_client_cert": true },
  "unknown_future_key": "ignored"
}`

func TestParseConnectorConfigValid(t *testing.T) {
	cfg, err := ParseConnectorConfig([]byte(validConnectorJSON))
	require.NoError(t, err)
	require.Equal(t, "relay.example.com", cfg.Intermediate.Host)
	require.Equal(t, 4433, cfg.Intermediate.Port)
	require.Len(t, cfg.Services, 3)
	require.NoError(t, ValidateConnectorConfig(cfg))
}

func TestParseConnectorConfigIgnoresUnknownKeys(t *testing.T) {
	cfg, err := ParseConnectorConfig([]byte(validConnectorJSON))
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestValidateConnectorConfigMissingIntermediateHost(t *testing.T) {
	cfg, err := ParseConnectorConfig([]byte(`{"intermediate":{"port":4433},"p2p":{"listen_port":1,"cert_path":"a","key_path":"b"},"services":[{"id":"x","backend":"127.0.0.1:1","protocol":"udp"}]}`))
	require.NoError(t, err)
	err = ValidateConnectorConfig(cfg)
	require.Error(t, err)
}

func TestValidateConnectorConfigDuplicateServiceID(t *testing.T) {
	cfg, err := ParseConnectorConfig([]byte(`{
		"intermediate": {"host":"h","port":1},
		"p2p": {"listen_port":1,"cert_path":"a","key_path":"b"},
		"services": [
			{"id":"svc","backend":"127.0.0.1:1","protocol":"udp"},
			{"id":"svc","backend":"127.0.0.1:2","protocol":"udp"}
		]
	}`))
	require.NoError(t, err)
	err = ValidateConnectorConfig(cfg)
	require.ErrorContains(t, err, "duplicate service id")
}

func TestValidateConnectorConfigUnsupportedProtocol(t *testing.T) {
	cfg, err := ParseConnectorConfig([]byte(`{
		"intermediate": {"host":"h","port":1},
		"p2p": {"listen_port":1,"cert_path":"a","key_path":"b"},
		"services": [{"id":"svc","backend":"127.0.0.1:1","protocol":"sctp"}]
	}`))
	require.NoError(t, err)
	err = ValidateConnectorConfig(cfg)
	require.ErrorContains(t, err, "unsupported protocol")
}

func TestValidateConnectorConfigICMPIgnoresBackend(t *testing.T) {
	cfg, err := ParseConnectorConfig([]byte(`{
		"intermediate": {"host":"h","port":1},
		"p2p": {"listen_port":1,"cert_path":"a","key_path":"b"},
		"services": [{"id":"ping","protocol":"icmp-local"}]
	}`))
	require.NoError(t, err)
	require.NoError(t, ValidateConnectorConfig(cfg))
}

func TestValidateConnectorConfigSealedKeyRequiresPassphrase(t *testing.T) {
	cfg, err := ParseConnectorConfig([]byte(`{
		"intermediate": {"host":"h","port":1},
		"p2p": {"listen_port":1,"cert_path":"a","key_path":"b","key_sealed":true},
		"services": [{"id":"svc","backend":"127.0.0.1:1","protocol":"udp"}]
	}`))
	require.NoError(t, err)
	err = ValidateConnectorConfig(cfg)
	require.ErrorContains(t, err, "key-unseal passphrase")
}

func TestLoadConnectorConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connector.json")
	require.NoError(t, os.WriteFile(path, []byte(validConnectorJSON), 0o600))

	cfg, err := LoadConnectorConfig(path)
	require.NoError(t, err)
	require.Equal(t, "relay.example.com", cfg.Intermediate.Host)
}

func TestLoadConnectorConfigMissingExplicitPath(t *testing.T) {
	_, err := LoadConnectorConfig("/nonexistent/connector.json")
	require.Error(t, err)
}

func TestResolveBackendPort(t *testing.T) {
	port, err := ResolveBackendPort("127.0.0.1:9999")
	require.NoError(t, err)
	require.Equal(t, uint16(9999), port)

	_, err = ResolveBackendPort("not-an-address")
	require.Error(t, err)
}
