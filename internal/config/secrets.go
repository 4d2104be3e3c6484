// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"github.com/openztna/dataplane/internal/support"
)

// secretSource resolves one secret value from, in precedence order: an
// already-set value (e.g. a CLI flag), a file, stdin, or an environment
// variable. This is the teacher's --foo-file/--foo-stdin/env chain,
// generalized away from a fixed Config struct.
type secretSource struct {
	label     string
	value     *string
	file      *string
	fromStdin *bool
	envVar    string
}

func applySecretSource(source *secretSource) error {
	if source == nil || source.value == nil {
		return nil
	}
	if *source.value != "" {
		return nil
	}
	if source.file != nil && *source.file != "" {
		secret, err := support.ReadSecretFile(*source.file)
		if err != nil {
			return err
		}
		*source.value = secret
		return nil
	}
	if source.fromStdin != nil && *source.fromStdin {
		secret, err := support.ReadSecretStdin(source.label)
		if err != nil {
			return err
		}
		*source.value = secret
		return nil
	}
	*source.value = support.GetEnvTrimmed(source.envVar)
	return nil
}
