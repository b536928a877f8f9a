// Package codec serializes entities to and from the binary
// representation stored in the cache backend. msgpack is used instead of
// JSON so that new optional fields can be added to an entity without
// invalidating every value already sitting in a running cache: unknown
// fields are ignored on decode and missing fields decode to their zero
// value, so the format evolves additively across versions.
package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes v to its cache wire representation.
func Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal decodes b into v. A malformed or truncated b is treated the
// same as a cache miss by callers: Unmarshal returns an error and the
// caller is expected to fall through to the delegate rather than surface
// a decode error to its own caller.
func Unmarshal(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("codec: unmarshal %T: %w", v, err)
	}
	return nil
}

// MarshalString encodes a plain string (comments, symlink targets).
func MarshalString(s string) ([]byte, error) { return Marshal(s) }

// UnmarshalString decodes a plain string.
func UnmarshalString(b []byte) (string, error) {
	var s string
	if err := Unmarshal(b, &s); err != nil {
		return "", err
	}
	return s, nil
}
