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
	"fmt"
	"sort"
	"strings"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
	"github.com/gitksdev/gitks/pkg/repository"
)

// Resolver expands a key identifier into candidate fingerprints. Short IDs
// and emails may match several keys; ambiguity is an expected outcome, not
// an error, and callers receive every candidate ordered most recently
// modified first.
type Resolver struct {
	storage repository.Storage
	codec   Codec
}

// NewResolver returns a resolver scanning the given storage.
func NewResolver(storage repository.Storage, codec Codec) *Resolver {
	return &Resolver{storage: storage, codec: codec}
}

// Resolve maps identifier to fingerprints. Accepted forms: a full 40-hex
// fingerprint (optionally 0x-prefixed), an 8- or 16-hex short ID, or an
// email address.
func (r *Resolver) Resolve(ctx context.Context, identifier string) ([]types.Fingerprint, error) {
	const op errors.Op = "resolver.resolve"

	id := strings.TrimSpace(identifier)
	id = strings.TrimPrefix(id, "0x")
	id = strings.TrimPrefix(id, "0X")

	switch {
	case len(id) == types.FingerprintLen:
		fp, err := types.ParseFingerprint(id)
		if err != nil {
			return nil, errors.E(op, errors.InvalidFingerprint, err)
		}
		switch _, _, err := r.storage.ReadTip(ctx, fp); err {
		case nil:
			return []types.Fingerprint{fp}, nil
		case repository.ErrNotFound:
			return nil, nil
		default:
			return nil, err
		}

	case types.IsShortID(id):
		return r.resolveShortID(ctx, strings.ToLower(id))

	case strings.Contains(id, "@"):
		return r.resolveEmail(ctx, strings.ToLower(id))

	default:
		return nil, errors.E(op, errors.InvalidFingerprint,
			fmt.Errorf("identifier %q is not a fingerprint, short ID, or email", identifier))
	}
}

// resolveShortID suffix-matches the ref namespace. Collisions between
// unrelated keys are genuine; all matches are returned.
func (r *Resolver) resolveShortID(ctx context.Context, shortID string) ([]types.Fingerprint, error) {
	tips, err := r.storage.ListTips(ctx)
	if err != nil {
		return nil, err
	}
	sortTips(tips)

	var matches []types.Fingerprint
	for _, tip := range tips {
		if strings.HasSuffix(tip.Fingerprint.String(), shortID) {
			matches = append(matches, tip.Fingerprint)
		}
	}
	return matches, nil
}

// resolveEmail scans the namespace and decodes each record to match on
// identity email.
func (r *Resolver) resolveEmail(ctx context.Context, email string) ([]types.Fingerprint, error) {
	tips, err := r.storage.ListTips(ctx)
	if err != nil {
		return nil, err
	}
	sortTips(tips)

	var matches []types.Fingerprint
	for _, tip := range tips {
		contents, _, err := r.storage.ReadTip(ctx, tip.Fingerprint)
		if err == repository.ErrNotFound {
			// Ref exists but holds no record yet.
			continue
		}
		if err != nil {
			return nil, err
		}
		record, err := r.codec.Decode(contents)
		if err != nil {
			return nil, err
		}
		for _, ident := range record.Identities {
			if ident.Email == email {
				matches = append(matches, tip.Fingerprint)
				break
			}
		}
	}
	return matches, nil
}

func sortTips(tips []repository.Tip) {
	sort.Slice(tips, func(i, j int) bool {
		if !tips[i].When.Equal(tips[j].When) {
			return tips[i].When.After(tips[j].When)
		}
		return tips[i].Fingerprint < tips[j].Fingerprint
	})
}
