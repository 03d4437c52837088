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
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
	"github.com/gitksdev/gitks/pkg/repository"
)

// DefaultMaxWorktrees bounds the checkout-slot pool when RepositoryOptions
// does not say otherwise. Sizing is a throughput tunable, not a correctness
// concern.
const DefaultMaxWorktrees = 8

// worktreeLeaser hands out exclusive, per-ref leases backed by ephemeral
// checkout directories. Two levels of waiting exist: a per-ref semaphore so
// that at most one lease is live per ref, and a bounded slot pool shared by
// all refs so the number of simultaneous checkouts stays fixed. Both queue
// waiters in FIFO order. Distinct refs never contend on anything but the
// slot pool.
type worktreeLeaser struct {
	repo    *Repository
	baseDir string
	slots   *semaphore.Weighted

	mutex sync.Mutex
	refs  map[plumbing.ReferenceName]*refLock
}

// refLock serializes lease holders of a single ref. Entries are reference
// counted so the map does not grow with the key population, only with live
// contention.
type refLock struct {
	sem     *semaphore.Weighted
	holders int
}

func newWorktreeLeaser(repo *Repository, baseDir string, maxWorktrees int) *worktreeLeaser {
	if maxWorktrees <= 0 {
		maxWorktrees = DefaultMaxWorktrees
	}
	return &worktreeLeaser{
		repo:    repo,
		baseDir: baseDir,
		slots:   semaphore.NewWeighted(int64(maxWorktrees)),
		refs:    make(map[plumbing.ReferenceName]*refLock),
	}
}

// lease is an exclusive handle on one key ref, bound to an ephemeral
// checkout directory. It implements repository.Lease.
type lease struct {
	leaser *worktreeLeaser
	fp     types.Fingerprint
	ref    plumbing.ReferenceName
	dir    string

	// observed is the ref tip at acquisition time. Release refuses to
	// advance the ref if it moved since; under lease exclusivity that can
	// only mean an out-of-band rewrite.
	observed plumbing.Hash

	// head is the staged commit chain tip; equal to observed until the
	// first Commit.
	head plumbing.Hash

	base     []byte
	released bool
}

var _ repository.Lease = &lease{}

// acquire blocks, bounded by ctx, until the ref is free and a checkout slot
// is available. The ref lock is taken before the slot so that same-ref
// writers queue among themselves without each consuming a checkout slot
// while they wait.
func (l *worktreeLeaser) acquire(ctx context.Context, fp types.Fingerprint) (*lease, error) {
	const op errors.Op = "lease.acquire"

	refName, err := KeyRefName(fp)
	if err != nil {
		return nil, err
	}

	rl := l.pin(refName)
	if err := rl.sem.Acquire(ctx, 1); err != nil {
		l.unpin(refName)
		return nil, errors.E(op, errors.LeaseTimeout, fp, err)
	}

	if err := l.slots.Acquire(ctx, 1); err != nil {
		rl.sem.Release(1)
		l.unpin(refName)
		return nil, errors.E(op, errors.LeaseTimeout, fp, err)
	}

	ls, err := l.checkout(ctx, fp, refName)
	if err != nil {
		l.slots.Release(1)
		rl.sem.Release(1)
		l.unpin(refName)
		return nil, err
	}
	return ls, nil
}

// checkout binds the ephemeral worktree directory to the ref, creating the
// ref as an orphan when it does not exist yet. Caller holds the ref lock
// and a slot.
func (l *worktreeLeaser) checkout(ctx context.Context, fp types.Fingerprint, refName plumbing.ReferenceName) (*lease, error) {
	const op errors.Op = "lease.checkout"

	repo := l.repo.repo

	var observed plumbing.Hash
	var base []byte

	switch ref, err := repo.Reference(refName, true); err {
	case nil:
		observed = ref.Hash()
		commit, err := repo.CommitObject(observed)
		if err != nil {
			return nil, errors.E(op, errors.Integrity, fp, err)
		}
		switch contents, err := readObjectFile(commit); err {
		case nil:
			base = contents
		case object.ErrFileNotFound:
			// Orphan initial commit only; no record yet.
		default:
			return nil, errors.E(op, errors.Integrity, fp, err)
		}

	case plumbing.ErrReferenceNotFound:
		// First mutation of this key. Create the orphan ref: an empty
		// initial commit sharing ancestry with nothing, so the key's
		// history stays independently prunable and replicable.
		ch := newCommitHelper(l.repo, plumbing.ZeroHash)
		initial, err := ch.commit(ctx, nil, repository.CommitMeta{
			Operation: repository.OpInit,
			When:      time.Now(),
			Submitter: gitksSignatureEmail,
		})
		if err != nil {
			return nil, errors.E(op, errors.Internal, fp, err)
		}
		if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, initial)); err != nil {
			return nil, errors.E(op, errors.Internal, fp, err)
		}
		observed = initial
		klog.V(2).Infof("created orphan ref %s", refName)

	default:
		return nil, errors.E(op, errors.Internal, fp, err)
	}

	dir := l.worktreePath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.E(op, errors.Internal, fp, err)
	}
	if base != nil {
		if err := util.WriteFile(osfs.New(dir), objectFileName, base, 0o644); err != nil {
			os.RemoveAll(dir)
			return nil, errors.E(op, errors.Internal, fp, err)
		}
	}

	return &lease{
		leaser:   l,
		fp:       fp,
		ref:      refName,
		dir:      dir,
		observed: observed,
		head:     observed,
		base:     base,
	}, nil
}

func (l *worktreeLeaser) worktreePath() string {
	return filepath.Join(l.baseDir, uuid.NewString())
}

func (l *worktreeLeaser) pin(refName plumbing.ReferenceName) *refLock {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	rl, ok := l.refs[refName]
	if !ok {
		rl = &refLock{sem: semaphore.NewWeighted(1)}
		l.refs[refName] = rl
	}
	rl.holders++
	return rl
}

func (l *worktreeLeaser) unpin(refName plumbing.ReferenceName) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	rl, ok := l.refs[refName]
	if !ok {
		return
	}
	rl.holders--
	if rl.holders == 0 {
		delete(l.refs, refName)
	}
}

func (ls *lease) Fingerprint() types.Fingerprint {
	return ls.fp
}

func (ls *lease) Base() []byte {
	return ls.base
}

// Commit stages one commit carrying contents. The worktree file is kept in
// step with the staged state; the ref itself does not move until Release.
func (ls *lease) Commit(ctx context.Context, contents []byte, meta repository.CommitMeta) (string, error) {
	const op errors.Op = "lease.commit"

	if ls.released {
		return "", errors.E(op, errors.Internal, ls.fp, "commit on released lease")
	}

	fs := osfs.New(ls.dir)
	if err := util.WriteFile(fs, objectFileName, contents, 0o644); err != nil {
		return "", errors.E(op, errors.Internal, ls.fp, err)
	}

	ch := newCommitHelper(ls.leaser.repo, ls.head)
	commitHash, err := ch.commit(ctx, contents, meta)
	if err != nil {
		return "", errors.E(op, errors.Internal, ls.fp, err)
	}

	ls.head = commitHash
	return commitHash.String(), nil
}

// Release tears down the checkout and, if commits were staged, advances the
// ref. The advance is a compare-and-swap against the tip observed at
// acquisition: a moved tip means something rewrote the ref out of band, and
// the staged commits are abandoned rather than merged over the rewrite. The
// checkout directory, slot, and ref lock are given back on every path.
func (ls *lease) Release(ctx context.Context) error {
	const op errors.Op = "lease.release"

	if ls.released {
		return nil
	}
	ls.released = true

	defer func() {
		if err := os.RemoveAll(ls.dir); err != nil {
			klog.Warningf("failed to remove worktree %s: %v", ls.dir, err)
		}
		ls.leaser.slots.Release(1)
		l := ls.leaser
		l.mutex.Lock()
		rl := l.refs[ls.ref]
		l.mutex.Unlock()
		if rl != nil {
			rl.sem.Release(1)
		}
		l.unpin(ls.ref)
	}()

	if ls.head == ls.observed {
		// Nothing staged; the ref stays where it was.
		return nil
	}

	repo := ls.leaser.repo.repo

	staged, err := repo.CommitObject(ls.head)
	if err != nil {
		return errors.E(op, errors.Internal, ls.fp, err)
	}
	observed, err := repo.CommitObject(ls.observed)
	if err != nil {
		return errors.E(op, errors.Internal, ls.fp, err)
	}
	ancestor, err := observed.IsAncestor(staged)
	if err != nil {
		return errors.E(op, errors.Internal, ls.fp, err)
	}
	if !ancestor {
		return errors.E(op, errors.Integrity, ls.fp,
			"staged commits do not fast-forward the observed tip")
	}

	newRef := plumbing.NewHashReference(ls.ref, ls.head)
	oldRef := plumbing.NewHashReference(ls.ref, ls.observed)
	if err := repo.Storer.CheckAndSetReference(newRef, oldRef); err != nil {
		// The tip moved underneath an exclusive lease: out-of-band
		// rewrite. Surface loudly, never merge over it.
		return errors.E(op, errors.Integrity, ls.fp, err)
	}

	klog.V(2).Infof("advanced %s to %s", ls.ref, ls.head)
	return nil
}
