// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalingFrameRoundTrip(t *testing.T) {
	offer := CandidateOffer{
		SessionID: [16]byte{1, 2, 3},
		ServiceID: "echo-service",
		Candidates: []Candidate{
			{Type: CandidateHost, IP: "10.0.0.5", Port: 4434, Priority: ComputePriority(CandidateHost, 65535)},
		},
	}
	env, err := EncodeEnvelope(SignalCandidateOffer, offer)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, env))

	readBack, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, SignalCandidateOffer, readBack.Kind)

	var decoded CandidateOffer
	require.NoError(t, readBack.Decode(&decoded))
	require.Equal(t, offer.ServiceID, decoded.ServiceID)
	require.Equal(t, offer.SessionID, decoded.SessionID)
	require.Len(t, decoded.Candidates, 1)
	require.Equal(t, offer.Candidates[0].IP, decoded.Candidates[0].IP)
}

func TestPairPriorityFormula(t *testing.T) {
	// Symmetric: swapping g and d while keeping controlling side tracked
	// externally must not change the minGD*2^32 + 2*maxGD component.
	a := PairPriority(100, 50)
	b := PairPriority(50, 100)
	// a has g>d so tie-break adds 1; b has g<d so it doesn't.
	require.Equal(t, a, b+1)
}
