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

// Package keystore is the facade of the git-backed keyserver engine: it
// composes the storage and OpenPGP capabilities into the add / lookup /
// revoke operations exposed to the surrounding server or CLI layer.
package keystore

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
	"github.com/gitksdev/gitks/pkg/repository"
)

var tracer = otel.Tracer("keystore")

// DefaultSubmitter is the submitter reference recorded in commit messages
// when Options does not carry one.
const DefaultSubmitter = "keyserver@gitks.dev"

// Options configures a KeyStore.
type Options struct {
	// Submitter is the submitter reference recorded in every mutation's
	// commit message.
	Submitter string
}

// KeyStore is the single entry point of the engine. All mutations run under
// a per-key lease; reads resolve ref tips directly.
type KeyStore struct {
	storage   repository.Storage
	parser    repository.KeyParser
	codec     Codec
	merger    Merger
	resolver  *Resolver
	submitter string
}

// New composes a KeyStore from the two injected capabilities.
func New(storage repository.Storage, parser repository.KeyParser, opts Options) *KeyStore {
	codec := NewCodec(parser)
	submitter := opts.Submitter
	if submitter == "" {
		submitter = DefaultSubmitter
	}
	return &KeyStore{
		storage:   storage,
		parser:    parser,
		codec:     codec,
		merger:    NewMerger(parser),
		resolver:  NewResolver(storage, codec),
		submitter: submitter,
	}
}

// AddStatus reports what an Add did.
type AddStatus string

const (
	// StatusAdded means the key was not present before.
	StatusAdded AddStatus = "added"
	// StatusMerged means an existing record was extended.
	StatusMerged AddStatus = "merged"
	// StatusUnchanged means the submission carried nothing new; no commit
	// was created.
	StatusUnchanged AddStatus = "unchanged"
)

// AddResult reports the outcome of one Add.
type AddResult struct {
	Status      AddStatus
	Fingerprint types.Fingerprint
	// Commit is the storage commit identifier, empty for Unchanged.
	Commit string
}

// RevokeStatus reports what a Revoke did.
type RevokeStatus string

const (
	StatusRevoked        RevokeStatus = "revoked"
	StatusAlreadyRevoked RevokeStatus = "already_revoked"
	// StatusNotFound means no record exists for the fingerprint. Keys are
	// never deleted, so this only happens for keys never submitted.
	StatusNotFound RevokeStatus = "not_found"
)

// RevokeResult reports the outcome of one Revoke.
type RevokeResult struct {
	Status      RevokeStatus
	Fingerprint types.Fingerprint
	Commit      string
}

// Init initializes the backing repository for keyserver use.
func (s *KeyStore) Init(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "KeyStore::Init", trace.WithAttributes())
	defer span.End()

	return s.storage.Init(ctx)
}

// Add submits armored public key material. The submission is merged into
// any existing record for the same fingerprint; the operation is atomic —
// either the commit lands and the ref advances, or nothing is observably
// changed.
func (s *KeyStore) Add(ctx context.Context, armored []byte) (AddResult, error) {
	ctx, span := tracer.Start(ctx, "KeyStore::Add", trace.WithAttributes())
	defer span.End()

	incoming, err := s.parser.ParseKey(armored)
	if err != nil {
		return AddResult{}, err
	}

	lease, err := s.storage.Acquire(ctx, incoming.Fingerprint)
	if err != nil {
		return AddResult{}, err
	}

	result, err := s.addUnderLease(ctx, lease, incoming)

	// The lease is released on every path; a release failure after a
	// staged commit leaves the ref unadvanced, which preserves atomicity.
	if rerr := lease.Release(ctx); rerr != nil && err == nil {
		return AddResult{}, rerr
	}
	if err != nil {
		return AddResult{}, err
	}

	klog.V(1).Infof("add %s: %s", result.Fingerprint, result.Status)
	return result, nil
}

func (s *KeyStore) addUnderLease(ctx context.Context, lease repository.Lease, incoming *repository.KeyRecord) (AddResult, error) {
	const op errors.Op = "keystore.add"

	fp := incoming.Fingerprint
	now := time.Now()

	merged := incoming
	status := StatusAdded

	if base := lease.Base(); base != nil {
		existing, err := s.codec.Decode(base)
		if err != nil {
			return AddResult{}, err
		}
		if existing.Fingerprint != fp {
			// The ref's content disagrees with its own name.
			return AddResult{}, errors.E(op, errors.Integrity, fp,
				fmt.Errorf("ref for %s decodes to fingerprint %s", fp, existing.Fingerprint))
		}

		merged, err = s.merger.Merge(existing, incoming)
		if err != nil {
			return AddResult{}, err
		}

		if equivalent(merged, existing) {
			return AddResult{Status: StatusUnchanged, Fingerprint: fp}, nil
		}
		status = StatusMerged
	}

	merged.UpdatedAt = now
	encoded, err := s.codec.Encode(merged)
	if err != nil {
		return AddResult{}, err
	}

	commit, err := lease.Commit(ctx, encoded, repository.CommitMeta{
		Operation: repository.OpAdd,
		When:      now,
		Submitter: s.submitter,
	})
	if err != nil {
		return AddResult{}, err
	}

	return AddResult{Status: status, Fingerprint: fp, Commit: commit}, nil
}

// Lookup resolves an identifier (fingerprint, short ID, or email) and
// returns the current record of every matching key, most recently modified
// first. Lookups take no lease.
func (s *KeyStore) Lookup(ctx context.Context, identifier string) ([]*repository.KeyRecord, error) {
	ctx, span := tracer.Start(ctx, "KeyStore::Lookup", trace.WithAttributes())
	defer span.End()

	const op errors.Op = "keystore.lookup"

	fps, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	var records []*repository.KeyRecord
	for _, fp := range fps {
		contents, tip, err := s.storage.ReadTip(ctx, fp)
		if err == repository.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		record, err := s.codec.Decode(contents)
		if err != nil {
			return nil, err
		}
		if record.Fingerprint != fp {
			return nil, errors.E(op, errors.Integrity, fp,
				fmt.Errorf("ref for %s decodes to fingerprint %s", fp, record.Fingerprint))
		}
		if record.UpdatedAt.IsZero() {
			record.UpdatedAt = tip.When
		}
		records = append(records, record)
	}
	return records, nil
}

// Revoke applies a revocation certificate to the key. Revocation is
// monotonic: once set, no later submission reverts it, because the
// revocation signature is embedded in the key material itself.
func (s *KeyStore) Revoke(ctx context.Context, fingerprint string, cert []byte) (RevokeResult, error) {
	ctx, span := tracer.Start(ctx, "KeyStore::Revoke", trace.WithAttributes())
	defer span.End()

	const op errors.Op = "keystore.revoke"

	fp, err := types.ParseFingerprint(fingerprint)
	if err != nil {
		return RevokeResult{}, errors.E(op, errors.InvalidFingerprint, err)
	}

	rev, err := s.parser.ParseRevocation(cert)
	if err != nil {
		return RevokeResult{}, err
	}
	if rev.IssuerKeyID != "" && rev.IssuerKeyID != fp.KeyID() {
		return RevokeResult{}, errors.E(op, errors.Conflict, fp,
			fmt.Errorf("certificate issued by %s cannot revoke key %s", rev.IssuerKeyID, fp))
	}

	lease, err := s.storage.Acquire(ctx, fp)
	if err != nil {
		return RevokeResult{}, err
	}

	result, err := s.revokeUnderLease(ctx, lease, fp, cert)

	if rerr := lease.Release(ctx); rerr != nil && err == nil {
		return RevokeResult{}, rerr
	}
	if err != nil {
		return RevokeResult{}, err
	}

	klog.V(1).Infof("revoke %s: %s", fp, result.Status)
	return result, nil
}

func (s *KeyStore) revokeUnderLease(ctx context.Context, lease repository.Lease, fp types.Fingerprint, cert []byte) (RevokeResult, error) {
	const op errors.Op = "keystore.revoke"

	base := lease.Base()
	if base == nil {
		return RevokeResult{Status: StatusNotFound, Fingerprint: fp}, nil
	}

	existing, err := s.codec.Decode(base)
	if err != nil {
		return RevokeResult{}, err
	}
	if existing.Fingerprint != fp {
		return RevokeResult{}, errors.E(op, errors.Integrity, fp,
			fmt.Errorf("ref for %s decodes to fingerprint %s", fp, existing.Fingerprint))
	}

	revokedArmor, err := s.parser.ApplyRevocation(existing.Armored, cert)
	if err != nil {
		return RevokeResult{}, err
	}

	record, err := s.parser.ParseKey(revokedArmor)
	if err != nil {
		return RevokeResult{}, err
	}
	if existing.Revoked && equivalent(record, existing) {
		return RevokeResult{Status: StatusAlreadyRevoked, Fingerprint: fp}, nil
	}
	record.Revoked = true // sticky regardless of what the material says
	record.UpdatedAt = time.Now()

	encoded, err := s.codec.Encode(record)
	if err != nil {
		return RevokeResult{}, err
	}

	commit, err := lease.Commit(ctx, encoded, repository.CommitMeta{
		Operation: repository.OpRevoke,
		When:      record.UpdatedAt,
		Submitter: s.submitter,
	})
	if err != nil {
		return RevokeResult{}, err
	}

	return RevokeResult{Status: StatusRevoked, Fingerprint: fp, Commit: commit}, nil
}

// equivalent reports whether two records carry the same key material. The
// comparison runs over the derived sets rather than armor bytes: armor
// serialization order is not canonical across encodings of the same packets.
func equivalent(a, b *repository.KeyRecord) bool {
	return a.Fingerprint == b.Fingerprint &&
		a.Revoked == b.Revoked &&
		reflect.DeepEqual(a.Identities, b.Identities) &&
		reflect.DeepEqual(a.Subkeys, b.Subkeys) &&
		reflect.DeepEqual(a.Signatures, b.Signatures)
}
