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

package keystore

import (
	"fmt"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/pkg/repository"
)

// Merger produces the conflict-free merge of two versions of the same key
// record. The merge is a union at the key-material level: identities and
// subkeys de-duplicated by their own identity, signatures de-duplicated by
// (issuer, target, creation time), the newest self-signature per identity
// winning, and revocation combined with OR. Because the union never drops a
// packet, the merge commutes: arrival order does not matter.
type Merger struct {
	parser repository.KeyParser
}

// NewMerger returns a merger combining key material through the given
// parser.
func NewMerger(parser repository.KeyParser) Merger {
	return Merger{parser: parser}
}

// Merge combines existing and incoming. A primary fingerprint mismatch is
// structurally impossible under correct ref naming, so it is an integrity
// fault, not a resolvable conflict.
func (m Merger) Merge(existing, incoming *repository.KeyRecord) (*repository.KeyRecord, error) {
	const op errors.Op = "merger.merge"

	if existing.Fingerprint != incoming.Fingerprint {
		return nil, errors.E(op, errors.Conflict, existing.Fingerprint,
			fmt.Errorf("incoming record has fingerprint %s, ref owns %s",
				incoming.Fingerprint, existing.Fingerprint))
	}

	combined, err := m.parser.Combine(existing.Armored, incoming.Armored)
	if err != nil {
		return nil, err
	}

	// Re-derive the record from the combined material so the metadata is
	// the union by construction.
	merged, err := m.parser.ParseKey(combined)
	if err != nil {
		return nil, err
	}

	// Revocation is sticky: even if the combined material somehow lost
	// the revocation packet, the flag never reverts.
	merged.Revoked = merged.Revoked || existing.Revoked || incoming.Revoked

	return merged, nil
}
