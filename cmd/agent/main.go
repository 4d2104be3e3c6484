// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Command agent is a reference host harness for the sans-IO Agent core
// (spec §4.1, §6). It owns the one thing the core explicitly does not:
// the real UDP socket. Platform packet capture (the virtual network
// interface that supplies outbound IP packets and accepts return
// traffic) is an external collaborator out of scope for this repo (§1);
// this harness stands in a logging PacketFlow so the core's full
// recv/poll/timeout loop and P2P engine can be driven and observed
// end-to-end against a real socket.
package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openztna/dataplane/internal/agentcore"
	"github.com/openztna/dataplane/internal/config"
	"github.com/openztna/dataplane/internal/p2p"
	"github.com/openztna/dataplane/internal/resilience"
	"github.com/openztna/dataplane/internal/wire"
	"github.com/openztna/dataplane/shared/certutil"
)

// Exit codes per spec §6.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitTLSError     = 2
	exitSocketError  = 3
	exitFatalRuntime = 4
)

// holePunchPollInterval paces re-entry into the p2p engine's connectivity
// checks, mirroring the Connector's own ticker of the same name.
const holePunchPollInterval = 50 * time.Millisecond

// PacketFlow is the host's packet-capture boundary (§6): readPackets/
// writePackets on a virtual network interface. This reference harness
// never talks to a real TUN device; it only logs what it would have
// written back, since the platform binding is an external collaborator.
type PacketFlow interface {
	WritePacket(ipPacket []byte) error
}

type loggingPacketFlow struct{ log zerolog.Logger }

func (f loggingPacketFlow) WritePacket(ipPacket []byte) error {
	f.log.Debug().Int("bytes", len(ipPacket)).Msg("return packet ready for virtual interface")
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := config.ParseAgentFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		return exitConfigError
	}

	log := newLogger(flags.Verbose)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ agent: bind local socket: %v\n", err)
		return exitSocketError
	}
	defer conn.Close()

	local, ok := netip.AddrFromSlice(conn.LocalAddr().(*net.UDPAddr).IP.To4())
	if !ok {
		local = netip.IPv4Unspecified()
	}
	localAddrPort := netip.AddrPortFrom(local, uint16(conn.LocalAddr().(*net.UDPAddr).Port))

	core := agentcore.New(localAddrPort, log)
	defer core.Destroy()

	flow := loggingPacketFlow{log: log}
	core.SetCallbacks(agentcore.Callbacks{
		OnObservedAddress: func(addr netip.AddrPort) {
			log.Info().Str("reflexive_addr", addr.String()).Msg("QAD observed address")
		},
		OnPacket: func(peer netip.AddrPort, ipPacket []byte) {
			if werr := flow.WritePacket(ipPacket); werr != nil {
				log.Warn().Err(werr).Msg("write to virtual interface failed")
			}
		},
		OnIntermediateUp: func() {
			log.Info().Msg("Intermediate connection established")
		},
		OnIntermediateErr: func(err error) {
			log.Error().Err(err).Msg("Intermediate connection error")
		},
	})

	tlsConf, err := certutil.ClientConfig(flags.IntermediateHost, flags.CertPath, "", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ agent: %v\n", err)
		return exitTLSError
	}

	if err := core.Connect(flags.IntermediateHost, uint16(flags.IntermediatePort), tlsConf); err != nil {
		fmt.Fprintf(os.Stderr, "❌ agent: connect: %v\n", err)
		return exitFatalRuntime
	}
	fmt.Printf("🔌 Agent connecting to Intermediate at %s:%d\n", flags.IntermediateHost, flags.IntermediatePort)

	engine := p2p.NewEngine(core, netip.MustParseAddrPort(fmt.Sprintf("%s:%d", flags.IntermediateHost, flags.IntermediatePort)), log)
	core.AttachBindingHandler(engine)

	paths := resilience.NewManager()
	paths.AddPath(resilience.PathRelay, wire.KeepaliveIntervalIntermediate)
	nextPunchPoll := time.Now()
	core.RegisterTimerSource(func() (time.Time, bool) {
		return nextPunchPoll, true
	})
	core.RegisterTimeoutCallback(func() {
		nextPunchPoll = time.Now().Add(holePunchPollInterval)
		engine.PollHolePunch()
		paths.Tick(time.Now())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eventLoop(ctx, conn, core, log); err != nil {
		log.Error().Err(err).Msg("agent event loop exited")
		return exitFatalRuntime
	}
	return exitOK
}

// eventLoop is the outer suspension point spec §5 describes: it blocks on
// either an inbound UDP datagram or the core's next timer deadline, and
// re-enters the sans-IO core through Recv/Poll/OnTimeout for each. Inbound
// reads run on their own goroutine since net.UDPConn has no select-style
// readiness API; everything else, including every core call, happens on
// this single goroutine.
func eventLoop(ctx context.Context, conn *net.UDPConn, core *agentcore.Core, log zerolog.Logger) error {
	type inbound struct {
		data []byte
		from netip.AddrPort
	}
	inboundCh := make(chan inbound, 256)

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case inboundCh <- inbound{data: cp, from: addr}:
			case <-ctx.Done():
				return
			}
		}
	}()

	drainOutbound := func() {
		for {
			data, dest, err := core.Poll()
			if err != nil {
				return
			}
			if _, werr := conn.WriteToUDPAddrPort(data, dest); werr != nil {
				log.Warn().Err(werr).Msg("send outbound datagram failed")
			}
		}
	}

	for {
		timeoutMS := core.TimeoutMS()
		var timer *time.Timer
		var timerC <-chan time.Time
		if timeoutMS >= 0 {
			timer = time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case pkt := <-inboundCh:
			if timer != nil {
				timer.Stop()
			}
			if err := core.Recv(pkt.data, pkt.from); err != nil {
				log.Debug().Err(err).Str("from", pkt.from.String()).Msg("recv rejected")
			}
			drainOutbound()
		case <-timerC:
			core.OnTimeout()
			drainOutbound()
		}
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "agent").Logger()
}
