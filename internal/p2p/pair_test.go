// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openztna/dataplane/internal/wire"
)

func TestBuildPairsSortsByDescendingPriority(t *testing.T) {
	local := []wire.Candidate{
		{Type: wire.CandidateHost, IP: "10.0.0.1", Port: 1, Priority: wire.ComputePriority(wire.CandidateHost, 1)},
		{Type: wire.CandidateRelay, IP: "203.0.113.1", Port: 1, Priority: wire.ComputePriority(wire.CandidateRelay, 1)},
	}
	remote := []wire.Candidate{
		{Type: wire.CandidateHost, IP: "10.0.0.2", Port: 2, Priority: wire.ComputePriority(wire.CandidateHost, 1)},
	}
	pairs := buildPairs(local, remote, true)
	require.Len(t, pairs, 2)
	for i := 1; i < len(pairs); i++ {
		assert.GreaterOrEqual(t, pairs[i-1].priority, pairs[i].priority)
	}
}

func TestUnfreezeSiblingsSharesFoundation(t *testing.T) {
	succeeded := &pair{remote: wire.Candidate{Foundation: "abc"}, state: PairSucceeded}
	sibling := &pair{remote: wire.Candidate{Foundation: "abc"}, state: PairFrozen}
	other := &pair{remote: wire.Candidate{Foundation: "xyz"}, state: PairFrozen}

	unfreezeSiblings([]*pair{succeeded, sibling, other}, succeeded)

	assert.Equal(t, PairWaiting, sibling.state)
	assert.Equal(t, PairFrozen, other.state)
}
