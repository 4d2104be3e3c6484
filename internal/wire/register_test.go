// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoundTrip(t *testing.T) {
	buf, err := EncodeRegister(FrameRegisterAgent, "echo-service")
	require.NoError(t, err)
	assert.Equal(t, FrameRegisterAgent, buf[0])

	got, err := DecodeRegister(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo-service", got)
}

func TestRegisterServiceIDBoundaryLengths(t *testing.T) {
	cases := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"zero", 0, true},
		{"one", 1, false},
		{"max", MaxServiceIDLen, false},
		{"over-max", MaxServiceIDLen + 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := strings.Repeat("a", tc.length)
			_, err := EncodeRegister(FrameRegisterConnector, id)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidServiceID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
