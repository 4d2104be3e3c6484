// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"flag"
	"fmt"
)

// AgentFlags is the Agent's minimal CLI: where to reach the Intermediate
// and how verbose to log. The Agent has no backend JSON document since it
// is a single-host daemon driven by the platform packet-capture extension.
type AgentFlags struct {
	IntermediateHost string
	IntermediatePort int
	CertPath         string
	Verbose          bool
}

// ParseAgentFlags parses the Agent daemon's CLI flags from args (excluding
// argv[0]).
func ParseAgentFlags(args []string) (*AgentFlags, error) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	cfg := &AgentFlags{IntermediatePort: 4433}
	fs.StringVar(&cfg.IntermediateHost, "host", "", "Intermediate rendezvous host")
	fs.IntVar(&cfg.IntermediatePort, "port", cfg.IntermediatePort, "Intermediate rendezvous port")
	fs.StringVar(&cfg.CertPath, "ca", "", "CA certificate path for verifying the Intermediate")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.IntermediateHost == "" {
		return nil, fmt.Errorf("config: --host is required")
	}
	return cfg, nil
}

// IntermediateFlags is the Intermediate daemon's CLI: its own listen
// address/port, TLS material, and optional admin feed.
type IntermediateFlags struct {
	ListenAddr    string
	ListenPort    int
	CertPath      string
	KeyPath       string
	AdminAddr     string
	RebindThresh  int
	Verbose       bool
}

// ParseIntermediateFlags parses the Intermediate daemon's CLI flags.
func ParseIntermediateFlags(args []string) (*IntermediateFlags, error) {
	fs := flag.NewFlagSet("intermediate", flag.ContinueOnError)
	cfg := &IntermediateFlags{
		ListenAddr:   "0.0.0.0",
		ListenPort:   4433,
		RebindThresh: 1,
	}
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "UDP listen address")
	fs.IntVar(&cfg.ListenPort, "port", cfg.ListenPort, "UDP listen port")
	fs.StringVar(&cfg.CertPath, "cert", "", "TLS certificate path")
	fs.StringVar(&cfg.KeyPath, "key", "", "TLS private key path")
	fs.StringVar(&cfg.AdminAddr, "admin", "", "Admin WebSocket feed listen address (empty disables it)")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return nil, fmt.Errorf("config: --cert and --key are required")
	}
	return cfg, nil
}

// ConnectorFlags is the Connector daemon's CLI: mostly a pointer at its
// JSON config document, plus the verbosity switch every daemon shares.
type ConnectorFlags struct {
	ConfigPath string
	Verbose    bool
}

// ParseConnectorFlags parses the Connector daemon's CLI flags.
func ParseConnectorFlags(args []string) (*ConnectorFlags, error) {
	fs := flag.NewFlagSet("connector", flag.ContinueOnError)
	cfg := &ConnectorFlags{}
	fs.StringVar(&cfg.ConfigPath, "config", "", "Path to connector.json (default search: /etc/ztna/connector.json, ./connector.json)")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
