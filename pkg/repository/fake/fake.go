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

// Package fake provides an in-memory repository.Storage for testing the
// engine core without a git repository on disk. It honors the same
// contract: per-key exclusive leases, fast-forward-only advances, atomic
// release.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
	"github.com/gitksdev/gitks/pkg/repository"
)

// Storage is an in-memory implementation of repository.Storage.
type Storage struct {
	mutex       sync.Mutex
	initialized bool
	keys        map[types.Fingerprint]*entry
	locks       map[types.Fingerprint]*semaphore.Weighted
}

type entry struct {
	contents []byte
	version  int
	when     time.Time
	history  []repository.CommitMeta
}

// NewStorage returns an empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		keys:  make(map[types.Fingerprint]*entry),
		locks: make(map[types.Fingerprint]*semaphore.Weighted),
	}
}

func (s *Storage) Init(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.initialized {
		return errors.E(errors.Op("fake.init"), errors.Exist, "storage already initialized")
	}
	s.initialized = true
	return nil
}

func (s *Storage) Acquire(ctx context.Context, fp types.Fingerprint) (repository.Lease, error) {
	const op errors.Op = "fake.acquire"

	if _, err := types.ParseFingerprint(string(fp)); err != nil {
		return nil, errors.E(op, errors.InvalidFingerprint, err)
	}

	s.mutex.Lock()
	lock, ok := s.locks[fp]
	if !ok {
		lock = semaphore.NewWeighted(1)
		s.locks[fp] = lock
	}
	s.mutex.Unlock()

	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, errors.E(op, errors.LeaseTimeout, fp, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	ls := &lease{storage: s, fp: fp, lock: lock}
	if e, ok := s.keys[fp]; ok {
		ls.base = append([]byte(nil), e.contents...)
		ls.baseVersion = e.version
	} else {
		// Implicit orphan creation, mirroring the git backend.
		s.keys[fp] = &entry{when: time.Now()}
	}
	return ls, nil
}

func (s *Storage) ReadTip(ctx context.Context, fp types.Fingerprint) ([]byte, repository.Tip, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.keys[fp]
	if !ok || e.contents == nil {
		return nil, repository.Tip{}, repository.ErrNotFound
	}
	tip := repository.Tip{
		Fingerprint: fp,
		Hash:        fmt.Sprintf("fake-%d", e.version),
		When:        e.when,
	}
	return append([]byte(nil), e.contents...), tip, nil
}

func (s *Storage) ListTips(ctx context.Context) ([]repository.Tip, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var tips []repository.Tip
	for fp, e := range s.keys {
		tips = append(tips, repository.Tip{
			Fingerprint: fp,
			Hash:        fmt.Sprintf("fake-%d", e.version),
			When:        e.when,
		})
	}
	return tips, nil
}

// History returns the commit metadata recorded for a key, oldest first.
// Test helper.
func (s *Storage) History(fp types.Fingerprint) []repository.CommitMeta {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if e, ok := s.keys[fp]; ok {
		return append([]repository.CommitMeta(nil), e.history...)
	}
	return nil
}

type lease struct {
	storage     *Storage
	fp          types.Fingerprint
	lock        *semaphore.Weighted
	base        []byte
	baseVersion int

	staged     []byte
	stagedMeta []repository.CommitMeta
	released   bool
}

func (l *lease) Fingerprint() types.Fingerprint {
	return l.fp
}

func (l *lease) Base() []byte {
	return l.base
}

func (l *lease) Commit(ctx context.Context, contents []byte, meta repository.CommitMeta) (string, error) {
	if l.released {
		return "", errors.E(errors.Op("fake.commit"), errors.Internal, l.fp, "commit on released lease")
	}
	l.staged = append([]byte(nil), contents...)
	l.stagedMeta = append(l.stagedMeta, meta)
	return fmt.Sprintf("fake-%d", l.baseVersion+len(l.stagedMeta)), nil
}

func (l *lease) Release(ctx context.Context) error {
	const op errors.Op = "fake.release"

	if l.released {
		return nil
	}
	l.released = true
	defer l.lock.Release(1)

	if l.staged == nil {
		return nil
	}

	s := l.storage
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e := s.keys[l.fp]
	if e == nil || e.version != l.baseVersion {
		return errors.E(op, errors.Integrity, l.fp, "tip moved under an exclusive lease")
	}
	e.contents = l.staged
	e.version += len(l.stagedMeta)
	e.history = append(e.history, l.stagedMeta...)
	e.when = l.stagedMeta[len(l.stagedMeta)-1].When
	return nil
}
