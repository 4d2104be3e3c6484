// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package intermediate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/openztna/dataplane/internal/metrics"
	"github.com/openztna/dataplane/shared/certutil"
)

// IdleTimeout is how long a connection may go without activity before the
// reaper removes its registry entry and closes it (§3: "entries are
// removed on connection close or idle timeout").
const IdleTimeout = 2 * time.Minute

// reapInterval paces the registry/session sweep; it is not itself part of
// the spec's timing table, only the operational cadence the sweep runs at.
const reapInterval = 15 * time.Second

// Server is the Intermediate: it accepts QUIC connections, maintains the
// registry and session manager, relays service-routed datagrams, and
// brokers P2P signaling, per §4.2. Scheduling is a single Accept loop plus
// one goroutine per accepted connection — each goroutine's own I/O
// (ReceiveDatagram/AcceptStream) is itself non-blocking from the caller's
// perspective, since quic-go multiplexes every connection over one
// underlying socket.
type Server struct {
	log      zerolog.Logger
	listener *quic.Listener
	registry *Registry
	sessions *SessionManager
	admin    *Admin

	mu                 sync.Mutex
	conns              map[string]*connEntry
	connectorLastAgent map[string]string

	nowFn func() time.Time
}

// Config configures the Intermediate's listening socket and authorization.
type Config struct {
	ListenAddr        string
	CertPath, KeyPath string
	// ClientCAPath, when set, enables mTLS and restricts registration to
	// the SANs the client certificate presents (§7).
	ClientCAPath string
}

// NewServer builds a Server bound to addr with the given TLS identity, but
// does not start accepting connections yet; call Run for that.
func NewServer(cfg Config, log zerolog.Logger) (*Server, error) {
	// A configured ClientCAPath is the operator opting into mTLS; once
	// opted in, a client certificate is mandatory (RequireAndVerifyClientCert),
	// not merely requested, per §9's instruction not to copy the
	// accept-without-cert permissive default.
	tlsConf, err := certutil.LoadServerConfig(cfg.CertPath, cfg.KeyPath, cfg.ClientCAPath, true)
	if err != nil {
		return nil, fmt.Errorf("intermediate: %w", err)
	}

	quicConf := &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  30 * time.Second,
	}

	listener, err := quic.ListenAddr(cfg.ListenAddr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("intermediate: listen %s: %w", cfg.ListenAddr, err)
	}

	s := &Server{
		log:                log,
		listener:           listener,
		registry:           NewRegistry(),
		sessions:           NewSessionManager(),
		admin:              NewAdmin(log),
		conns:              make(map[string]*connEntry),
		connectorLastAgent: make(map[string]string),
		nowFn:              time.Now,
	}
	s.registry.OnConnectorOverwrite(func(serviceID, oldConnID, newConnID string) {
		s.log.Warn().Str("service_id", serviceID).Str("previous_conn_id", oldConnID).Str("new_conn_id", newConnID).
			Msg("connector registration overwrote previous authoritative holder")
	})
	return s, nil
}

// Admin exposes the observability feed handler for the host to mount on
// its HTTP mux.
func (s *Server) Admin() *Admin { return s.admin }

// Addr reports the bound listener address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Run accepts connections until ctx is cancelled or the listener fails.
// Each accepted connection is handled on its own goroutine; this method
// also drives the idle-registry/expired-session reaper on reapInterval.
func (s *Server) Run(ctx context.Context) error {
	go s.reapLoop(ctx)

	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("intermediate: accept: %w", err)
		}
		go s.handleConnection(ctx, conn)
	}
}

// Close shuts the listener down, refusing further connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) now() time.Time { return s.nowFn() }

func (s *Server) addConn(entry *connEntry) {
	s.mu.Lock()
	s.conns[entry.id] = entry
	s.mu.Unlock()
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	for connectorID, agentID := range s.connectorLastAgent {
		if connectorID == id || agentID == id {
			delete(s.connectorLastAgent, connectorID)
		}
	}
	s.mu.Unlock()
}

func (s *Server) lookupConn(id string) *connEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.reapOnce(now)
		}
	}
}

func (s *Server) reapOnce(now time.Time) {
	for _, id := range s.registry.ReapIdle(now, IdleTimeout) {
		if entry := s.lookupConn(id); entry != nil {
			_ = entry.conn.CloseWithError(0, "idle timeout")
		}
		s.admin.NotifyConnection(id, StateClosed.String())
	}
	reaped := s.sessions.ReapExpired(now)
	for _, sid := range reaped {
		s.admin.NotifySession(sid, "", "expired")
	}
	if len(reaped) > 0 {
		metrics.SetActiveSessions(s.sessions.Count())
	}
}
