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

package types

import (
	"strings"
	"testing"
)

const testFingerprint = "0123456789abcdef0123456789abcdef01234567"

func TestParseFingerprint(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		want  Fingerprint
		valid bool
	}{
		{name: "lowercase", input: testFingerprint, want: testFingerprint, valid: true},
		{name: "uppercase canonicalized", input: strings.ToUpper(testFingerprint), want: testFingerprint, valid: true},
		{name: "surrounding whitespace", input: "  " + testFingerprint + "\n", want: testFingerprint, valid: true},
		{name: "empty", input: ""},
		{name: "short id", input: "01234567"},
		{name: "key id", input: "0123456789abcdef"},
		{name: "too long", input: testFingerprint + "00"},
		{name: "not hex", input: "z123456789abcdef0123456789abcdef01234567"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFingerprint(tc.input)
			if tc.valid {
				if err != nil {
					t.Fatalf("ParseFingerprint(%q) failed: %v", tc.input, err)
				}
				if got != tc.want {
					t.Errorf("ParseFingerprint(%q) = %q, want %q", tc.input, got, tc.want)
				}
			} else if err == nil {
				t.Errorf("ParseFingerprint(%q) succeeded as %q, want error", tc.input, got)
			}
		})
	}
}

func TestFingerprintFromBytes(t *testing.T) {
	raw := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
		0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
		0x01, 0x23, 0x45, 0x67}
	if got := FingerprintFromBytes(raw); got != Fingerprint(testFingerprint) {
		t.Errorf("FingerprintFromBytes = %q, want %q", got, testFingerprint)
	}
}

func TestDerivedIDs(t *testing.T) {
	fp := Fingerprint(testFingerprint)
	if got, want := fp.KeyID(), "89abcdef01234567"; got != want {
		t.Errorf("KeyID = %q, want %q", got, want)
	}
	if got, want := fp.ShortID(), "01234567"; got != want {
		t.Errorf("ShortID = %q, want %q", got, want)
	}
}

func TestIsShortID(t *testing.T) {
	for input, want := range map[string]bool{
		"01234567":         true,
		"89ABCDEF":         true,
		"0123456789abcdef": true,
		"0123456":          false,
		"012345678":        false,
		"ghijklmn":         false,
		testFingerprint:    false,
	} {
		if got := IsShortID(input); got != want {
			t.Errorf("IsShortID(%q) = %v, want %v", input, got, want)
		}
	}
}
