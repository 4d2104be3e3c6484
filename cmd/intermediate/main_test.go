// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunMissingCertAndKeyReturnsConfigError(t *testing.T) {
	code := run(nil)
	assert.Equal(t, exitConfigError, code)
}

func TestRunUnloadableCertReturnsTLSError(t *testing.T) {
	code := run([]string{"-cert", "/nonexistent/cert.pem", "-key", "/nonexistent/key.pem"})
	assert.Equal(t, exitTLSError, code)
}
