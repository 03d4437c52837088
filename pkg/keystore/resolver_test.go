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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
	"github.com/gitksdev/gitks/pkg/pgp"
	"github.com/gitksdev/gitks/pkg/repository"
	"github.com/gitksdev/gitks/pkg/repository/fake"
)

// seedRaw plants contents on a key ref directly, bypassing the engine. The
// resolver's short-ID path only reads the ref namespace, so the contents do
// not have to be decodable key material.
func seedRaw(t *testing.T, storage repository.Storage, fp types.Fingerprint, contents []byte, when time.Time) {
	t.Helper()
	ctx := context.Background()
	lease, err := storage.Acquire(ctx, fp)
	require.NoError(t, err)
	_, err = lease.Commit(ctx, contents, repository.CommitMeta{
		Operation: repository.OpAdd,
		When:      when,
		Submitter: "seed@example.org",
	})
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestResolveFullFingerprint(t *testing.T) {
	storage := fake.NewStorage()
	codec := NewCodec(pgp.NewParser())
	resolver := NewResolver(storage, codec)

	fp := types.Fingerprint("0123456789abcdef0123456789abcdef01234567")
	seedRaw(t, storage, fp, []byte("payload"), time.Now())

	for _, identifier := range []string{
		fp.String(),
		"0x" + fp.String(),
		"0X0123456789ABCDEF0123456789ABCDEF01234567",
	} {
		fps, err := resolver.Resolve(context.Background(), identifier)
		require.NoError(t, err, "identifier %q", identifier)
		assert.Equal(t, []types.Fingerprint{fp}, fps, "identifier %q", identifier)
	}
}

func TestResolveAbsentFingerprintIsEmptyNotError(t *testing.T) {
	resolver := NewResolver(fake.NewStorage(), NewCodec(pgp.NewParser()))

	fps, err := resolver.Resolve(context.Background(), "0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	assert.Empty(t, fps)
}

func TestResolveShortIDCollision(t *testing.T) {
	storage := fake.NewStorage()
	resolver := NewResolver(storage, NewCodec(pgp.NewParser()))

	// Two unrelated keys sharing the low 32 bits: a genuine short-ID
	// collision. Both must surface, newest modification first.
	older := types.Fingerprint("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaadeadbeef")
	newer := types.Fingerprint("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbdeadbeef")
	other := types.Fingerprint("cccccccccccccccccccccccccccccccc01234567")
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	seedRaw(t, storage, older, []byte("older"), base)
	seedRaw(t, storage, newer, []byte("newer"), base.Add(time.Hour))
	seedRaw(t, storage, other, []byte("other"), base.Add(2*time.Hour))

	fps, err := resolver.Resolve(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []types.Fingerprint{newer, older}, fps)

	// The 16-digit key ID disambiguates.
	fps, err = resolver.Resolve(context.Background(), "aaaaaaaadeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []types.Fingerprint{older}, fps)
}

func TestResolveEmail(t *testing.T) {
	storage := fake.NewStorage()
	parser := pgp.NewParser()
	codec := NewCodec(parser)
	resolver := NewResolver(storage, codec)

	alice := newTestKey(t, "Alice", "alice@example.org")
	bob := newTestKey(t, "Bob", "bob@example.org")

	encode := func(t *testing.T, armored []byte) []byte {
		record, err := parser.ParseKey(armored)
		require.NoError(t, err)
		encoded, err := codec.Encode(record)
		require.NoError(t, err)
		return encoded
	}

	seedRaw(t, storage, entityFingerprint(alice), encode(t, armorPublic(t, alice)), time.Now())
	seedRaw(t, storage, entityFingerprint(bob), encode(t, armorPublic(t, bob)), time.Now())

	fps, err := resolver.Resolve(context.Background(), "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, []types.Fingerprint{entityFingerprint(alice)}, fps)

	fps, err = resolver.Resolve(context.Background(), "Bob@Example.Org")
	require.NoError(t, err)
	assert.Equal(t, []types.Fingerprint{entityFingerprint(bob)}, fps)

	fps, err = resolver.Resolve(context.Background(), "nobody@example.org")
	require.NoError(t, err)
	assert.Empty(t, fps)
}

func TestResolveRejectsMalformedIdentifier(t *testing.T) {
	resolver := NewResolver(fake.NewStorage(), NewCodec(pgp.NewParser()))

	for _, identifier := range []string{"", "xyz", "0123456", "no-at-sign-or-hex!"} {
		_, err := resolver.Resolve(context.Background(), identifier)
		require.Error(t, err, "identifier %q", identifier)
		assert.True(t, errors.Is(errors.InvalidFingerprint, err), "identifier %q", identifier)
	}
}
