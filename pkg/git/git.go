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

// Package git implements the version-control capability of the keyserver
// engine on go-git. One bare repository holds one orphan ref per key under
// refs/heads/keys/<fingerprint>; mutations go through exclusive worktree
// leases and advance refs only by clean fast-forward.
package git

import (
	"context"
	"io"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
	"github.com/gitksdev/gitks/pkg/repository"
)

var tracer = otel.Tracer("git")

// Configuration recorded by Init, marking the repository as a gitks
// keyserver.
const (
	configKeyserverSection = "enc"
	configKeyserverOption  = "keyserver"
	configKeyserverValue   = "gitks"

	configGitksSection   = "gitks"
	configKeysSubsection = "keys"
	configBranchOption   = "branch"
)

// RepositoryOptions configures an opened repository.
type RepositoryOptions struct {
	// UserInfoProvider resolves the commit author for mutations. Optional;
	// the engine signature is used when absent.
	UserInfoProvider repository.UserInfoProvider

	// MaxWorktrees bounds the pool of concurrent ephemeral checkouts.
	// Zero means DefaultMaxWorktrees.
	MaxWorktrees int

	// WorktreeDir is the base directory for ephemeral checkouts. Zero
	// means a "worktrees" directory next to the repository.
	WorktreeDir string
}

// Repository is the git-backed implementation of repository.Storage.
type Repository struct {
	root             string
	repo             *gogit.Repository
	userInfoProvider repository.UserInfoProvider
	leaser           *worktreeLeaser
}

var _ repository.Storage = &Repository{}

// OpenRepository opens the bare repository at root, creating it when the
// directory does not exist yet.
func OpenRepository(ctx context.Context, root string, opts RepositoryOptions) (*Repository, error) {
	_, span := tracer.Start(ctx, "OpenRepository", trace.WithAttributes())
	defer span.End()

	const op errors.Op = "git.open"

	// Clean up the directory in case initialization fails.
	cleanup := root
	defer func() {
		if cleanup != "" {
			os.RemoveAll(cleanup)
		}
	}()

	var repo *gogit.Repository

	if fi, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.E(op, errors.Internal, err)
		}
		r, err := initEmptyRepository(root)
		if err != nil {
			return nil, errors.E(op, errors.Internal, err)
		}
		repo = r
	} else if !fi.IsDir() {
		cleanup = ""
		return nil, errors.E(op, errors.Internal, "repository root is not a directory: "+root)
	} else {
		cleanup = "" // Existing directory; do not delete it.
		r, err := openRepository(root)
		if err != nil {
			return nil, errors.E(op, errors.Internal, err)
		}
		repo = r
	}

	worktreeDir := opts.WorktreeDir
	if worktreeDir == "" {
		worktreeDir = filepath.Join(root, "worktrees")
	}

	r := &Repository{
		root:             root,
		repo:             repo,
		userInfoProvider: opts.UserInfoProvider,
	}
	r.leaser = newWorktreeLeaser(r, worktreeDir, opts.MaxWorktrees)

	cleanup = "" // Success. Keep the git directory.
	return r, nil
}

// Init marks the repository as a gitks keyserver, recording the ref
// namespace in git config. Fails if the repository is already initialized.
func (r *Repository) Init(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Repository::Init", trace.WithAttributes())
	defer span.End()

	const op errors.Op = "git.init"

	cfg, err := r.repo.Config()
	if err != nil {
		return errors.E(op, errors.Internal, err)
	}

	if existing := cfg.Raw.Section(configKeyserverSection).Option(configKeyserverOption); existing != "" {
		return errors.E(op, errors.Exist,
			"repository is already initialized as keyserver "+existing)
	}

	cfg.Raw.Section(configKeyserverSection).SetOption(configKeyserverOption, configKeyserverValue)
	cfg.Raw.Section(configGitksSection).
		Subsection(configKeysSubsection).
		SetOption(configBranchOption, keysPrefix)

	if err := r.repo.SetConfig(cfg); err != nil {
		return errors.E(op, errors.Internal, err)
	}

	klog.Infof("initialized gitks keyserver in %s", r.root)
	return nil
}

// Acquire grants the exclusive lease for the key's ref. See WorktreeLeaser
// semantics in lease.go.
func (r *Repository) Acquire(ctx context.Context, fp types.Fingerprint) (repository.Lease, error) {
	ctx, span := tracer.Start(ctx, "Repository::Acquire", trace.WithAttributes())
	defer span.End()

	return r.leaser.acquire(ctx, fp)
}

// ReadTip reads the encoded record at the ref tip. Reads take no lease: a
// ref tip always points at a complete commit, so tip resolution is
// internally consistent.
func (r *Repository) ReadTip(ctx context.Context, fp types.Fingerprint) ([]byte, repository.Tip, error) {
	_, span := tracer.Start(ctx, "Repository::ReadTip", trace.WithAttributes())
	defer span.End()

	const op errors.Op = "git.readTip"

	refName, err := KeyRefName(fp)
	if err != nil {
		return nil, repository.Tip{}, err
	}

	ref, err := r.repo.Reference(refName, true)
	if err == plumbing.ErrReferenceNotFound {
		return nil, repository.Tip{}, repository.ErrNotFound
	}
	if err != nil {
		return nil, repository.Tip{}, errors.E(op, errors.Internal, fp, err)
	}

	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, repository.Tip{}, errors.E(op, errors.Integrity, fp, err)
	}

	tip := repository.Tip{
		Fingerprint: fp,
		Hash:        commit.Hash.String(),
		When:        commit.Committer.When,
	}

	contents, err := readObjectFile(commit)
	if err == object.ErrFileNotFound {
		// The ref exists but holds only its orphan initial commit; no
		// record has been committed yet.
		return nil, tip, repository.ErrNotFound
	}
	if err != nil {
		return nil, repository.Tip{}, errors.E(op, errors.Integrity, fp, err)
	}
	return contents, tip, nil
}

// ListTips enumerates the tip of every key ref. Refs with a malformed
// fingerprint suffix are skipped with a warning; they cannot belong to the
// engine.
func (r *Repository) ListTips(ctx context.Context) ([]repository.Tip, error) {
	_, span := tracer.Start(ctx, "Repository::ListTips", trace.WithAttributes())
	defer span.End()

	const op errors.Op = "git.listTips"

	refs, err := r.repo.References()
	if err != nil {
		return nil, errors.E(op, errors.Internal, err)
	}
	defer refs.Close()

	var tips []repository.Tip
	for {
		ref, err := refs.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(op, errors.Internal, err)
		}
		if !isKeyRef(ref.Name()) {
			continue
		}
		fp, ok := FingerprintFromRef(ref.Name())
		if !ok {
			klog.Warningf("skipping ref %s: not a valid key ref", ref.Name())
			continue
		}
		commit, err := r.repo.CommitObject(ref.Hash())
		if err != nil {
			return nil, errors.E(op, errors.Integrity, fp, err)
		}
		tips = append(tips, repository.Tip{
			Fingerprint: fp,
			Hash:        commit.Hash.String(),
			When:        commit.Committer.When,
		})
	}
	return tips, nil
}

func (r *Repository) userInfo(ctx context.Context) repository.UserInfo {
	if r.userInfoProvider != nil {
		if ui := r.userInfoProvider.GetUserInfo(ctx); ui != nil {
			return *ui
		}
	}
	return repository.UserInfo{Name: gitksSignatureName, Email: gitksSignatureEmail}
}

func readObjectFile(commit *object.Commit) ([]byte, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	file, err := tree.File(objectFileName)
	if err != nil {
		return nil, err
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(contents), nil
}
