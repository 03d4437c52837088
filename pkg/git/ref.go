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

package git

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
)

const (
	keysPrefix = "keys/"

	// keyRefPrefix is the ref namespace owning one orphan ref per key.
	keyRefPrefix = "refs/heads/" + keysPrefix
)

// KeyRefName maps a fingerprint to its ref name. The mapping is bijective:
// it accepts only full 40-hex fingerprints (short IDs would collide) and a
// fingerprint always yields the same ref.
func KeyRefName(fp types.Fingerprint) (plumbing.ReferenceName, error) {
	const op errors.Op = "git.keyRefName"

	parsed, err := types.ParseFingerprint(string(fp))
	if err != nil {
		return "", errors.E(op, errors.InvalidFingerprint, err)
	}
	return plumbing.ReferenceName(keyRefPrefix + parsed.String()), nil
}

// FingerprintFromRef is the inverse mapping, used when scanning the ref
// namespace. Returns false for refs outside the key namespace or with a
// malformed suffix.
func FingerprintFromRef(name plumbing.ReferenceName) (types.Fingerprint, bool) {
	s, ok := trimOptionalPrefix(name.String(), keyRefPrefix)
	if !ok {
		return "", false
	}
	fp, err := types.ParseFingerprint(s)
	if err != nil {
		return "", false
	}
	return fp, true
}

func isKeyRef(name plumbing.ReferenceName) bool {
	return strings.HasPrefix(name.String(), keyRefPrefix)
}

func trimOptionalPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return strings.TrimPrefix(s, prefix), true
	}
	return "", false
}
