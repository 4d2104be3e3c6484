// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package config parses the Connector's JSON configuration document and
// the flag-based CLI shared by all three daemons, following the
// Parse/Validate split and secret-source precedence chain the teacher
// uses for its own CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Protocol literals accepted in a service's "protocol" field.
const (
	ProtoUDP       = "udp"
	ProtoTCP       = "tcp"
	ProtoICMPLocal = "icmp-local"
)

// ServiceConfig is one entry of the Connector's "services" array.
type ServiceConfig struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
	Proto   string `json:"protocol"`
}

// IntermediateConfig is the rendezvous address the Connector dials out to.
type IntermediateConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// P2PConfig is the Connector's server-role listener for direct Agent
// connections, and the TLS material it presents there.
type P2PConfig struct {
	ListenPort int    `json:"listen_port"`
	CertPath   string `json:"cert_path"`
	KeyPath    string `json:"key_path"`

	// KeyPSK, KeyPSKFile, and KeyPSKFromStdin name the source of the
	// passphrase that unseals KeyPath when the key file on disk is a
	// security.SealKey frame rather than plain PEM, which KeySealed
	// marks. With KeySealed false, KeyPath is read as plaintext PEM.
	KeyPSK         string `json:"-"`
	KeyPSKFile     string `json:"key_psk_file"`
	KeyPSKFromStdin bool  `json:"-"`
	KeySealed      bool   `json:"key_sealed"`
}

// TLSConfig controls mTLS enforcement toward the Intermediate.
type TLSConfig struct {
	CAPath              string `json:"ca_path"`
	RequireClientCert   bool   `json:"require_client_cert"`
}

// ConnectorConfig is the full Connector JSON document described in spec §6.
type ConnectorConfig struct {
	Intermediate IntermediateConfig `json:"intermediate"`
	P2P          P2PConfig          `json:"p2p"`
	Services     []ServiceConfig    `json:"services"`
	TLS          TLSConfig          `json:"tls"`
}

// defaultConnectorSearchPaths is tried, in order, when --config is not
// given explicitly.
var defaultConnectorSearchPaths = []string{
	"/etc/ztna/connector.json",
	"./connector.json",
}

// LoadConnectorConfig resolves the configuration file from explicitPath
// (the --config flag, if given) or the default search paths, then parses
// it and resolves the key-unseal passphrase sources. It does not validate
// the result: ValidateConnectorConfig is a separate step, and missing
// mandatory keys fail there with a clear error. Unknown JSON keys are
// ignored by encoding/json's default decode behavior.
func LoadConnectorConfig(explicitPath string) (*ConnectorConfig, error) {
	path, err := resolveConnectorConfigPath(explicitPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConnectorConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := ApplyConnectorSecretSources(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveConnectorConfigPath(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("--config %s: %w", explicitPath, err)
		}
		return explicitPath, nil
	}
	for _, p := range defaultConnectorSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found: tried %v", defaultConnectorSearchPaths)
}

// ParseConnectorConfig decodes the JSON document without touching the
// filesystem, so tests can exercise it against inline fixtures.
func ParseConnectorConfig(data []byte) (*ConnectorConfig, error) {
	var cfg ConnectorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return &cfg, nil
}

// ApplyConnectorSecretSources resolves the P2P key-unseal passphrase from
// flag, file, stdin, or environment, in that precedence order, mirroring
// the teacher's applySecretSources chain.
func ApplyConnectorSecretSources(cfg *ConnectorConfig) error {
	src := secretSource{
		label:     "key-psk",
		value:     &cfg.P2P.KeyPSK,
		file:      &cfg.P2P.KeyPSKFile,
		fromStdin: &cfg.P2P.KeyPSKFromStdin,
		envVar:    "OPENZTNA_KEY_PSK",
	}
	return applySecretSource(&src)
}
