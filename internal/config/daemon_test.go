// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAgentFlags(t *testing.T) {
	cfg, err := ParseAgentFlags([]string{"-host", "relay.example.com", "-port", "5000"})
	require.NoError(t, err)
	require.Equal(t, "relay.example.com", cfg.IntermediateHost)
	require.Equal(t, 5000, cfg.IntermediatePort)
}

func TestParseAgentFlagsRequiresHost(t *testing.T) {
	_, err := ParseAgentFlags(nil)
	require.Error(t, err)
}

func TestParseAgentFlagsDefaultPort(t *testing.T) {
	cfg, err := ParseAgentFlags([]string{"-host", "h"})
	require.NoError(t, err)
	require.Equal(t, 4433, cfg.IntermediatePort)
}

func TestParseIntermediateFlags(t *testing.T) {
	cfg, err := ParseIntermediateFlags([]string{"-cert", "c.pem", "-key", "k.pem", "-port", "9000"})
	require.NoError(t, err)
	require.Equal(t, "c.pem", cfg.CertPath)
	require.Equal(t, "k.pem", cfg.KeyPath)
	require.Equal(t, 9000, cfg.ListenPort)
}

func TestParseIntermediateFlagsRequiresCertAndKey(t *testing.T) {
	_, err := ParseIntermediateFlags(nil)
	require.Error(t, err)
}

func TestParseConnectorFlagsDefaults(t *testing.T) {
	cfg, err := ParseConnectorFlags(nil)
	require.NoError(t, err)
	require.Equal(t, "", cfg.ConfigPath)
	require.False(t, cfg.Verbose)
}

func TestParseConnectorFlagsExplicitConfig(t *testing.T) {
	cfg, err := ParseConnectorFlags([]string{"-config", "/etc/ztna/connector.json", "-v"})
	require.NoError(t, err)
	require.Equal(t, "/etc/ztna/connector.json", cfg.ConfigPath)
	require.True(t, cfg.Verbose)
}
