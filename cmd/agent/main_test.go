// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package main

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openztna/dataplane/internal/agentcore"
)

func TestRunRequiresHostFlag(t *testing.T) {
	code := run(nil)
	assert.Equal(t, exitConfigError, code)
}

func TestLoggingPacketFlowNeverErrors(t *testing.T) {
	f := loggingPacketFlow{log: zerolog.Nop()}
	require.NoError(t, f.WritePacket([]byte{0x45, 0x00}))
}

func TestEventLoopReturnsPromptlyOnCancel(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()

	local := netip.MustParseAddrPort(conn.LocalAddr().String())
	core := agentcore.New(local, zerolog.Nop())
	defer core.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eventLoop(ctx, conn, core, zerolog.Nop()) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("eventLoop did not return after context cancellation")
	}
}
