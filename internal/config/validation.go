// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/openztna/dataplane/internal/support"
)

// ValidateConnectorConfig checks the mandatory keys spec §6 requires and
// returns a clear error naming the first problem found. It never touches
// the filesystem or exits the process; cmd/connector decides how to
// surface the failure (exit code 1, per §6).
func ValidateConnectorConfig(cfg *ConnectorConfig) error {
	if err := validateIntermediate(cfg.Intermediate); err != nil {
		return err
	}
	if err := validateP2P(cfg.P2P); err != nil {
		return err
	}
	if len(cfg.Services) == 0 {
		return fmt.Errorf("config: at least one service must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Services))
	for i, svc := range cfg.Services {
		if err := validateService(i, svc); err != nil {
			return err
		}
		if _, dup := seen[svc.ID]; dup {
			return fmt.Errorf("config: duplicate service id %q", svc.ID)
		}
		seen[svc.ID] = struct{}{}
	}
	return nil
}

func validateIntermediate(im IntermediateConfig) error {
	if strings.TrimSpace(im.Host) == "" {
		return fmt.Errorf("config: intermediate.host is required")
	}
	if im.Port <= 0 || im.Port > 65535 {
		return fmt.Errorf("config: intermediate.port must be 1-65535, got %d", im.Port)
	}
	return nil
}

func validateP2P(p2p P2PConfig) error {
	if p2p.ListenPort <= 0 || p2p.ListenPort > 65535 {
		return fmt.Errorf("config: p2p.listen_port must be 1-65535, got %d", p2p.ListenPort)
	}
	if strings.TrimSpace(p2p.CertPath) == "" {
		return fmt.Errorf("config: p2p.cert_path is required")
	}
	if strings.TrimSpace(p2p.KeyPath) == "" {
		return fmt.Errorf("config: p2p.key_path is required")
	}
	if p2p.KeySealed && strings.TrimSpace(p2p.KeyPSK) == "" {
		return fmt.Errorf("config: p2p.key_sealed requires a key-unseal passphrase (flag, p2p.key_psk_file, stdin, or OPENZTNA_KEY_PSK)")
	}
	return nil
}

func validateService(idx int, svc ServiceConfig) error {
	if strings.TrimSpace(svc.ID) == "" {
		return fmt.Errorf("config: services[%d].id is required", idx)
	}
	if len(svc.ID) > 255 {
		return fmt.Errorf("config: services[%d].id exceeds 255 bytes", idx)
	}
	switch svc.Proto {
	case ProtoUDP, ProtoTCP:
		if !support.LooksLikeHostPort(svc.Backend) {
			return fmt.Errorf("config: services[%d] (%s): backend must be host:port, got %q", idx, svc.ID, svc.Backend)
		}
		if _, _, err := net.SplitHostPort(svc.Backend); err != nil {
			return fmt.Errorf("config: services[%d] (%s): invalid backend address: %w", idx, svc.ID, err)
		}
	case ProtoICMPLocal:
		// icmp-local never forwards to a backend address; svc.Backend is ignored.
	default:
		return fmt.Errorf("config: services[%d] (%s): unsupported protocol %q (want udp, tcp, or icmp-local)", idx, svc.ID, svc.Proto)
	}
	return nil
}

// ResolveBackendPort extracts the numeric backend port for flow-table
// keying; callers already validated the address with ValidateConnectorConfig.
func ResolveBackendPort(backend string) (uint16, error) {
	_, portStr, err := net.SplitHostPort(backend)
	if err != nil {
		return 0, err
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("config: invalid backend port %q", portStr)
	}
	return uint16(p), nil
}
