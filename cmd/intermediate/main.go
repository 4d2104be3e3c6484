// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Command intermediate runs the Intermediate rendezvous/relay daemon
// (spec §4.2): it accepts both Agent and Connector QUIC connections,
// performs QUIC Address Discovery, maintains the service registry, and
// relays service-routed datagrams and P2P signaling between them.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/openztna/dataplane/internal/config"
	"github.com/openztna/dataplane/internal/intermediate"
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
	flags, err := config.ParseIntermediateFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "intermediate: %v\n", err)
		return exitConfigError
	}

	log := newLogger(flags.Verbose)

	srv, err := intermediate.NewServer(intermediate.Config{
		ListenAddr: net.JoinHostPort(flags.ListenAddr, fmt.Sprint(flags.ListenPort)),
		CertPath:   flags.CertPath,
		KeyPath:    flags.KeyPath,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ intermediate: %v\n", err)
		if clierrors.IsTLSLoadError(err) {
			return exitTLSError
		}
		if clierrors.IsSocketBindError(err) {
			return exitSocketError
		}
		return exitConfigError
	}

	fmt.Printf("🔌 Intermediate listening on %s\n", srv.Addr())

	var adminSrv *http.Server
	if flags.AdminAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/admin/feed", srv.Admin())
		adminSrv = &http.Server{Addr: flags.AdminAddr, Handler: mux}
		go func() {
			fmt.Printf("   admin feed at ws://%s/admin/feed\n", flags.AdminAddr)
			if lerr := adminSrv.ListenAndServe(); lerr != nil && lerr != http.ErrServerClosed {
				log.Error().Err(lerr).Msg("admin feed server exited")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)
	if adminSrv != nil {
		_ = adminSrv.Close()
	}
	if err != nil {
		log.Error().Err(err).Msg("intermediate run loop exited")
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
		With().Timestamp().Str("component", "intermediate").Logger()
}
