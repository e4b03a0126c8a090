// Package id generates opaque identifiers for ledger entities.
//
// IDs are UUIDv4 bytes encoded as lowercase, unpadded base32 (26
// characters), which keeps them URL-safe and case-insensitive-sortable in
// SQLite without a dedicated type.
package id

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a new 26-character identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// MustNewID returns a new identifier and panics on entropy failure.
// Entropy exhaustion is not a recoverable condition for callers.
func MustNewID() string {
	value, err := NewID()
	if err != nil {
		panic(err)
	}
	return value
}
