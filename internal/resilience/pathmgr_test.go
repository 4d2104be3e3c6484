// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openztna/dataplane/internal/wire"
)

func TestManagerDueAndPong(t *testing.T) {
	m := NewManager()
	m.AddPath(PathRelay, 10*time.Millisecond)

	now := time.Now()
	due := m.Due(now)
	require.Len(t, due, 1)
	require.Equal(t, PathRelay, due[0].Tag)

	tag, seq, err := wire.DecodeKeepalive(due[0].Data)
	require.NoError(t, err)
	require.Equal(t, wire.KeepaliveTagPing, tag)

	m.OnPong(PathRelay, seq, now.Add(2*time.Millisecond))
	st, ok := m.State(PathRelay)
	require.True(t, ok)
	require.Equal(t, StateActive, st)

	stats, ok := m.PathStats(PathRelay)
	require.True(t, ok)
	require.Greater(t, stats.RTT, time.Duration(0))
}

func TestPathNeverFailedWithinTolerance(t *testing.T) {
	m := NewManager()
	m.AddPath(PathRelay, 10*time.Millisecond)
	now := time.Now()

	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Millisecond)
		due := m.Due(now)
		if len(due) == 1 {
			_, seq, _ := wire.DecodeKeepalive(due[0].Data)
			m.OnPong(PathRelay, seq, now.Add(time.Millisecond))
		}
		m.Tick(now)
	}
	st, _ := m.State(PathRelay)
	require.Equal(t, StateActive, st)
}

func TestDirectFailureFallsBackToRelay(t *testing.T) {
	m := NewManager()
	m.AddPath(PathRelay, 10*time.Millisecond)
	m.AddPath(PathDirect, 10*time.Millisecond)
	m.ActivatePath(PathDirect)

	var notified PathTag
	m.OnActiveChange(func(t PathTag) { notified = t })

	now := time.Now()
	// Miss three consecutive direct keepalives; relay keeps responding.
	for i := 0; i < 4; i++ {
		now = now.Add(10 * time.Millisecond)
		due := m.Due(now)
		for _, d := range due {
			if d.Tag == PathRelay {
				_, seq, _ := wire.DecodeKeepalive(d.Data)
				m.OnPong(PathRelay, seq, now.Add(time.Millisecond))
			}
		}
		m.Tick(now)
	}

	st, _ := m.State(PathDirect)
	require.Equal(t, StateFailed, st)
	require.Equal(t, PathRelay, m.ActivePath())
	require.Equal(t, PathRelay, notified)
}

func TestSoleRelayFailureSignalsLossOfService(t *testing.T) {
	m := NewManager()
	m.AddPath(PathRelay, 10*time.Millisecond)

	lost := false
	m.OnLossOfService(func() { lost = true })

	now := time.Now()
	for i := 0; i < 4; i++ {
		now = now.Add(10 * time.Millisecond)
		m.Due(now)
		m.Tick(now)
	}

	require.True(t, lost)
	require.Equal(t, PathNone, m.ActivePath())
}

func TestFailedPathNotReprobedDuringCooldown(t *testing.T) {
	m := NewManager()
	m.AddPath(PathRelay, 10*time.Millisecond)

	now := time.Now()
	for i := 0; i < 4; i++ {
		now = now.Add(10 * time.Millisecond)
		m.Due(now)
		m.Tick(now)
	}
	st, _ := m.State(PathRelay)
	require.Equal(t, StateFailed, st)

	// Well within the 30s cooldown: no new ping should be due.
	due := m.Due(now.Add(time.Second))
	require.Empty(t, due)
}

func TestPreferDirectRequiresMargin(t *testing.T) {
	m := NewManager()
	m.AddPath(PathRelay, 10*time.Millisecond)
	m.AddPath(PathDirect, 10*time.Millisecond)

	now := time.Now()
	firstDue := m.Due(now)
	for _, d := range firstDue {
		if d.Tag != PathRelay {
			continue
		}
		_, seq, _ := wire.DecodeKeepalive(d.Data)
		m.OnPong(PathRelay, seq, now.Add(100*time.Millisecond))
	}
	require.False(t, m.PreferDirect())

	now = now.Add(20 * time.Millisecond)
	directDue := m.Due(now)
	for _, d := range directDue {
		if d.Tag != PathDirect {
			continue
		}
		_, seq, _ := wire.DecodeKeepalive(d.Data)
		m.OnPong(PathDirect, seq, now.Add(10*time.Millisecond))
	}
	require.True(t, m.PreferDirect())
}
