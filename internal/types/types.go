// Copyright 2026 The gitks Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package types defines the basic types used by the gitks codebase.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FingerprintLen is the number of hex digits in a full OpenPGP v4 fingerprint.
const FingerprintLen = 40

// Short-ID lengths accepted by the resolver.
const (
	ShortIDLen = 8
	KeyIDLen   = 16
)

// Fingerprint is the 40-hex-digit identity of an OpenPGP key, in canonical
// lowercase form. A Fingerprint constructed through ParseFingerprint or
// FingerprintFromBytes is always valid; the zero value is not.
type Fingerprint string

// ParseFingerprint validates s as a full fingerprint and returns its
// canonical (lowercase) form. Short IDs are rejected; ref naming requires
// the full fingerprint to stay bijective.
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.TrimSpace(s)
	if len(s) != FingerprintLen {
		return "", fmt.Errorf("fingerprint must be %d hex digits, got %d: %q", FingerprintLen, len(s), s)
	}
	s = strings.ToLower(s)
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("fingerprint is not hexadecimal: %q", s)
	}
	return Fingerprint(s), nil
}

// FingerprintFromBytes converts a raw 20-byte fingerprint into its canonical
// hex form.
func FingerprintFromBytes(b []byte) Fingerprint {
	return Fingerprint(hex.EncodeToString(b))
}

func (f Fingerprint) String() string {
	return string(f)
}

// KeyID returns the 16-hex-digit key ID (low 64 bits of the fingerprint).
func (f Fingerprint) KeyID() string {
	if len(f) < KeyIDLen {
		return string(f)
	}
	return string(f[len(f)-KeyIDLen:])
}

// ShortID returns the 8-hex-digit short ID. Short IDs may collide across
// unrelated keys and are only usable for searching, never for ref naming.
func (f Fingerprint) ShortID() string {
	if len(f) < ShortIDLen {
		return string(f)
	}
	return string(f[len(f)-ShortIDLen:])
}

// IsShortID reports whether s is an 8- or 16-hex-digit key identifier.
func IsShortID(s string) bool {
	if len(s) != ShortIDLen && len(s) != KeyIDLen {
		return false
	}
	_, err := hex.DecodeString(strings.ToLower(s))
	return err == nil
}
