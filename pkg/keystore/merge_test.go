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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/pkg/pgp"
)

func TestMergeUnionsIdentities(t *testing.T) {
	parser := pgp.NewParser()
	merger := NewMerger(parser)
	entity := newTestKey(t, "Alice", "alice@example.org")
	v1, err := parser.ParseKey(armorPublic(t, entity))
	require.NoError(t, err)
	require.NoError(t, entity.AddUserId("Alice Work", "", "alice@work.example.org", nil))
	v2, err := parser.ParseKey(armorPublic(t, entity))
	require.NoError(t, err)

	// The union is order independent.
	forward, err := merger.Merge(v1, v2)
	require.NoError(t, err)
	backward, err := merger.Merge(v2, v1)
	require.NoError(t, err)

	assert.Len(t, forward.Identities, 2)
	assert.Equal(t, forward.Identities, backward.Identities)
	assert.Equal(t, forward.Subkeys, backward.Subkeys)
}

func TestMergeIdempotent(t *testing.T) {
	parser := pgp.NewParser()
	merger := NewMerger(parser)
	entity := newTestKey(t, "Alice", "alice@example.org")
	record, err := parser.ParseKey(armorPublic(t, entity))
	require.NoError(t, err)

	merged, err := merger.Merge(record, record)
	require.NoError(t, err)
	assert.Equal(t, record.Identities, merged.Identities)
	assert.Equal(t, record.Subkeys, merged.Subkeys)
	assert.Equal(t, record.Signatures, merged.Signatures)
}

func TestMergeRejectsFingerprintMismatch(t *testing.T) {
	parser := pgp.NewParser()
	merger := NewMerger(parser)
	alice, err := parser.ParseKey(armorPublic(t, newTestKey(t, "Alice", "alice@example.org")))
	require.NoError(t, err)
	bob, err := parser.ParseKey(armorPublic(t, newTestKey(t, "Bob", "bob@example.org")))
	require.NoError(t, err)

	_, err = merger.Merge(alice, bob)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Conflict, err))
}

func TestMergeRevocationIsSticky(t *testing.T) {
	parser := pgp.NewParser()
	merger := NewMerger(parser)
	entity := newTestKey(t, "Alice", "alice@example.org")
	clean, err := parser.ParseKey(armorPublic(t, entity))
	require.NoError(t, err)
	revocationCert(t, entity) // revokes in place
	revoked, err := parser.ParseKey(armorPublic(t, entity))
	require.NoError(t, err)
	require.True(t, revoked.Revoked)

	for _, reversed := range []bool{false, true} {
		existing, incoming := clean, revoked
		if reversed {
			existing, incoming = revoked, clean
		}
		merged, err := merger.Merge(existing, incoming)
		require.NoError(t, err)
		assert.True(t, merged.Revoked, "revocation must survive merging in either order")
	}
}
