// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Command connector runs the Connector daemon (spec §4.3): it dials out
// to the Intermediate, registers the services named in its JSON config,
// and accepts direct P2P connections from Agents on the same socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/openztna/dataplane/internal/config"
	"github.com/openztna/dataplane/internal/connector"
	clierrors "github.com/openztna/dataplane/internal/support"
)

// Exit codes per spec §6.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitTLSError     = 2
	exitSocketError  = 3
	exitFatalRuntime = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := config.ParseConnectorFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connector: %v\n", err)
		return exitConfigError
	}

	log := newLogger(flags.Verbose)

	cfg, err := config.LoadConnectorConfig(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connector: %v\n", err)
		return exitConfigError
	}
	if err := config.ValidateConnectorConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "connector: %v\n", err)
		return exitConfigError
	}

	conn, err := connector.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ connector: %v\n", err)
		if clierrors.IsTLSLoadError(err) {
			return exitTLSError
		}
		if clierrors.IsSocketBindError(err) {
			return exitSocketError
		}
		return exitConfigError
	}

	fmt.Printf("🔌 Connector dialing Intermediate at %s:%d\n", cfg.Intermediate.Host, cfg.Intermediate.Port)
	for _, svc := range cfg.Services {
		fmt.Printf("   registered service %q → %s (%s)\n", svc.ID, svc.Backend, svc.Proto)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := conn.Run(ctx); err != nil {
		log.Error().Err(err).Msg("connector run loop exited")
		if clierrors.IsSocketBindError(err) {
			return exitSocketError
		}
		return exitFatalRuntime
	}
	return exitOK
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "connector").Logger()
}
