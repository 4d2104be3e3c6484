// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package support

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnRefused(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "syscall.ECONNREFUSED in OpError",
			err:      &net.OpError{Err: &os.SyscallError{Err: syscall.ECONNREFUSED}},
			expected: true,
		},
		{
			name:     "string contains connection refused",
			err:      errors.New("dial tcp: connection refused"),
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("some other error"),
			expected: false,
		},
		{
			name:     "OpError with different error",
			err:      &net.OpError{Err: errors.New("network unreachable")},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsConnRefused(tt.err))
		})
	}
}

func TestIsDialTimeout(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"net.Error with Timeout", &timeoutError{}, true},
		{"string contains timeout", errors.New("dial timeout"), true},
		{"other error", errors.New("some other error"), false},
		{"net.Error without Timeout", &nonTimeoutError{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsDialTimeout(tt.err))
		})
	}
}

// timeoutError implements net.Error with Timeout() returning true.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return false }

// nonTimeoutError implements net.Error with Timeout() returning false.
type nonTimeoutError struct{}

func (e *nonTimeoutError) Error() string   { return "network error" }
func (e *nonTimeoutError) Timeout() bool   { return false }
func (e *nonTimeoutError) Temporary() bool { return false }

func TestIsNoRoute(t *testing.T) {
	assert.True(t, IsNoRoute(ErrNoRoute))
	assert.True(t, IsNoRoute(fmt.Errorf("dispatch datagram: %w", ErrNoRoute)))
	assert.False(t, IsNoRoute(errors.New("unrelated")))
}

func TestIsSessionHijack(t *testing.T) {
	assert.True(t, IsSessionHijack(ErrSessionHijack))
	assert.True(t, IsSessionHijack(fmt.Errorf("validate candidate answer: %w", ErrSessionHijack)))
	assert.False(t, IsSessionHijack(ErrNoRoute))
}
