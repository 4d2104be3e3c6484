// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingRequestRoundTrip(t *testing.T) {
	req := BindingRequest{
		TransactionID: TransactionID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		Priority:      126 << 24,
		UseCandidate:  true,
	}
	buf := EncodeBindingRequest(req)
	assert.True(t, IsBindingCheck(buf))

	got, err := DecodeBindingRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestBindingResponseRoundTrip(t *testing.T) {
	resp := BindingResponse{
		TransactionID: TransactionID{9, 9, 9},
		Success:       true,
		MappedAddress: netip.MustParseAddrPort("198.51.100.9:55000"),
	}
	buf, err := EncodeBindingResponse(resp)
	require.NoError(t, err)
	assert.True(t, IsBindingCheck(buf))

	got, err := DecodeBindingResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestIsBindingCheckRejectsShortOrForeignBuffers(t *testing.T) {
	assert.False(t, IsBindingCheck(nil))
	assert.False(t, IsBindingCheck([]byte{0x01, 0x02}))
	assert.False(t, IsBindingCheck([]byte{0xc0, 0x00, 0x00, 0x00, 0x01}))
}

func TestDecodeBindingRequestRejectsWrongLength(t *testing.T) {
	_, err := DecodeBindingRequest(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortFrame)
}
