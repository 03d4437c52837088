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

// Package repository defines the capability interfaces the keyserver engine
// is built against: the version-control storage substrate and the OpenPGP
// parsing capability. The engine core never touches git or crypto directly;
// it goes through these interfaces so it can be tested against in-memory
// fakes.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gitksdev/gitks/internal/types"
)

// ErrNotFound is returned by ReadTip when no record exists for a fingerprint.
var ErrNotFound = errors.New("key not found")

// KeyRecord is the stored state of one public key. The armored payload is
// authoritative; every other field is derived from it and can always be
// regenerated.
type KeyRecord struct {
	// Fingerprint is the primary identity of the key (40 hex digits).
	Fingerprint types.Fingerprint

	// Identities are the user IDs bound to the key.
	Identities []Identity

	// Subkeys are the subordinate keys bound to the primary key.
	Subkeys []Subkey

	// Signatures are all signatures present in the key material.
	Signatures []Signature

	// Revoked is true once any key revocation has been observed. It is
	// sticky: a revoked record never becomes unrevoked.
	Revoked bool

	// Armored is the canonical ascii-armored key material.
	Armored []byte

	// UpdatedAt is the time of the last mutation.
	UpdatedAt time.Time
}

// Identity is one user ID on a key.
type Identity struct {
	// ID is the full user ID string, e.g. "Alice <alice@example.org>".
	ID    string
	Name  string
	Email string

	// SelfSigCreated is the creation time of the newest self-signature
	// over this identity.
	SelfSigCreated time.Time
}

// Subkey is one subordinate key bound to the primary key.
type Subkey struct {
	Fingerprint types.Fingerprint
	Created     time.Time
}

// Signature identifies one signature in the key material. The triple
// (Issuer, Target, Created) de-duplicates signatures across merges.
type Signature struct {
	// Issuer is the 16-hex key ID of the signing key.
	Issuer string

	// Target is what the signature covers: a user ID string, a subkey
	// fingerprint, or the primary fingerprint for direct/revocation
	// signatures.
	Target string

	Created time.Time

	// Type is the OpenPGP signature type octet.
	Type uint8
}

// Revocation is a parsed key revocation certificate.
type Revocation struct {
	// IssuerKeyID is the 16-hex key ID of the key the certificate revokes.
	IssuerKeyID string
	Created     time.Time
	Reason      string
}

// KeyParser is the OpenPGP capability consumed by the engine. The engine
// trusts it for all parsing and signature verification; no cryptography is
// implemented in the engine itself.
type KeyParser interface {
	// ParseKey parses ascii-armored public key material into a KeyRecord
	// with a canonical re-armored payload.
	ParseKey(armored []byte) (*KeyRecord, error)

	// ParseRevocation parses a revocation certificate (armored or binary).
	ParseRevocation(cert []byte) (*Revocation, error)

	// Combine merges two armored versions of the same key into one armored
	// payload containing the union of their packets. Both inputs must have
	// the same primary fingerprint.
	Combine(a, b []byte) ([]byte, error)

	// ApplyRevocation verifies cert against the key in armored and returns
	// the key material with the revocation signature embedded.
	ApplyRevocation(armored, cert []byte) ([]byte, error)
}

// Operations recorded in commit messages.
const (
	OpInit   = "init"
	OpAdd    = "add"
	OpRevoke = "revoke"
)

// CommitMeta is the metadata carried by every mutation commit, rendered into
// the fixed-format message "<operation>:<timestamp>:<submitter-reference>".
type CommitMeta struct {
	Operation string
	When      time.Time
	Submitter string
}

// Message renders the fixed-format commit message.
func (m CommitMeta) Message() string {
	return fmt.Sprintf("%s:%s:%s", m.Operation, m.When.UTC().Format(time.RFC3339), m.Submitter)
}

// timestampLen is the length of an RFC3339 UTC timestamp ("Z" suffix, no
// fractional seconds), as produced by Message.
const timestampLen = len("2006-01-02T15:04:05Z")

// ParseCommitMessage parses the first line of a commit message in the fixed
// format back into CommitMeta. Returns false for messages produced outside
// the engine. The timestamp itself contains ':', so the message is split
// around the fixed timestamp width rather than on separators alone.
func ParseCommitMessage(s string) (CommitMeta, bool) {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	op, rest, ok := strings.Cut(s, ":")
	if !ok || len(rest) < timestampLen+1 || rest[timestampLen] != ':' {
		return CommitMeta{}, false
	}
	when, err := time.Parse(time.RFC3339, rest[:timestampLen])
	if err != nil {
		return CommitMeta{}, false
	}
	return CommitMeta{Operation: op, When: when, Submitter: rest[timestampLen+1:]}, true
}

// Tip describes the current head of one key ref.
type Tip struct {
	Fingerprint types.Fingerprint

	// Hash is the storage-specific commit identifier at the tip.
	Hash string

	// When is the committer time of the tip commit, used to order
	// resolver results most-recently-modified first.
	When time.Time
}

// UserInfo is the identity recorded as commit author.
type UserInfo struct {
	Name  string
	Email string
}

// UserInfoProvider resolves the identity of the caller performing a
// mutation. A nil provider (or nil result) falls back to the engine
// signature.
type UserInfoProvider interface {
	GetUserInfo(ctx context.Context) *UserInfo
}

// Storage is the version-control capability. One repository holds one orphan
// ref per key; the ref is the unit of isolation. Implementations must
// guarantee that ref advances are atomic: a failed mutation leaves the ref
// unchanged.
type Storage interface {
	// Init prepares the repository for keyserver use. Fails with an
	// already-exists error if the repository is already initialized.
	Init(ctx context.Context) error

	// Acquire grants the exclusive lease for the key's ref, creating the
	// ref as an orphan if it does not exist yet. Blocks, bounded by ctx,
	// while another lease is live for the same ref or while all checkout
	// slots are busy.
	Acquire(ctx context.Context, fp types.Fingerprint) (Lease, error)

	// ReadTip returns the stored object bytes at the ref tip. Requires no
	// lease; tip resolution is internally consistent. Returns ErrNotFound
	// if the ref does not exist or holds no record yet.
	ReadTip(ctx context.Context, fp types.Fingerprint) ([]byte, Tip, error)

	// ListTips enumerates the tips of every key ref.
	ListTips(ctx context.Context) ([]Tip, error)
}

// Lease is exclusive, time-bounded access to one key's ref through an
// ephemeral checkout. At most one live lease exists per ref at any instant.
type Lease interface {
	// Fingerprint returns the key this lease is bound to.
	Fingerprint() types.Fingerprint

	// Base returns the object bytes observed at acquisition time, or nil
	// if the ref was created by this acquisition.
	Base() []byte

	// Commit stages one commit carrying the new object contents. Returns
	// the staged commit identifier. The ref does not advance until
	// Release.
	Commit(ctx context.Context, contents []byte, meta CommitMeta) (string, error)

	// Release tears down the checkout. If a commit was staged, the ref
	// advances only when the advance is a clean fast-forward from the tip
	// observed at acquisition; any unexpected rewrite is an integrity
	// fault. The checkout is removed on every path.
	Release(ctx context.Context) error
}
