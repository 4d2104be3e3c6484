// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunMissingConfigReturnsConfigError(t *testing.T) {
	code := run([]string{"-config", "/nonexistent/connector.json"})
	assert.Equal(t, exitConfigError, code)
}

func TestRunBadFlagReturnsConfigError(t *testing.T) {
	code := run([]string{"-not-a-flag"})
	assert.Equal(t, exitConfigError, code)
}
