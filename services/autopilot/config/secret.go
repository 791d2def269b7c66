// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Secret holds a credential sealed in a memguard enclave.
//
// # Description
//
// The plaintext is encrypted at rest in memory and only decrypted into a
// locked buffer for the duration of Reveal. String, MarshalYAML and
// LogValue never expose the value, so a Secret can be printed or logged
// with the rest of the configuration.
//
// # Thread Safety
//
// Safe for concurrent use; enclaves are immutable.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. An empty value yields an unset Secret.
func NewSecret(value string) Secret {
	if value == "" {
		return Secret{}
	}
	// NewEnclave wipes the source slice.
	return Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether the secret holds a value.
func (s Secret) IsSet() bool {
	return s.enclave != nil
}

// Reveal decrypts the secret. Callers should pass the result straight to
// the client that needs it and not retain it.
func (s Secret) Reveal() (string, error) {
	if s.enclave == nil {
		return "", nil
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// String implements fmt.Stringer without exposing the value.
func (s Secret) String() string {
	if s.IsSet() {
		return redacted
	}
	return ""
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// MarshalYAML writes the redaction marker in place of the value.
func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

// UnmarshalYAML seals a scalar value.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == redacted {
		return errors.New("secret holds the redaction marker, not a value")
	}
	*s = NewSecret(raw)
	return nil
}
