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
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/gitksdev/gitks/pkg/repository"
)

const (
	gitksSignatureName  = "gitks keyserver"
	gitksSignatureEmail = "keyserver@gitks.dev"
)

// objectFileName is the single file each key ref's tree holds: the encoded
// key record.
const objectFileName = "key.asc"

// commitHelper builds commits for one key ref via plumbing. A key ref's tree
// is flat (one file), so there is no tree recursion to manage; the helper
// still goes through the storer directly rather than a checkout so that the
// bare repository stays authoritative.
type commitHelper struct {
	repo             *Repository
	parentCommitHash plumbing.Hash // ZeroHash for the orphan initial commit
}

func newCommitHelper(repo *Repository, parent plumbing.Hash) *commitHelper {
	return &commitHelper{repo: repo, parentCommitHash: parent}
}

// commit stores contents as the ref's tree and creates a commit object.
// A nil contents produces an empty tree, which is how orphan refs begin
// life. Subsequent commits through the same helper chain their parents.
func (h *commitHelper) commit(ctx context.Context, contents []byte, meta repository.CommitMeta) (plumbing.Hash, error) {
	tree := &object.Tree{}
	if contents != nil {
		blobHash, err := storeBlob(h.repo.repo.Storer, contents)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("error storing object blob: %w", err)
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: objectFileName,
			Mode: filemode.Regular,
			Hash: blobHash,
		})
	}

	treeHash, err := storeTree(h.repo.repo.Storer, tree)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("error storing object tree: %w", err)
	}

	author := h.repo.userInfo(ctx)
	commit := &object.Commit{
		Author: object.Signature{
			Name:  author.Name,
			Email: author.Email,
			When:  meta.When,
		},
		Committer: object.Signature{
			Name:  gitksSignatureName,
			Email: gitksSignatureEmail,
			When:  meta.When,
		},
		Message:  meta.Message(),
		TreeHash: treeHash,
	}
	if !h.parentCommitHash.IsZero() {
		commit.ParentHashes = []plumbing.Hash{h.parentCommitHash}
	}

	commitHash, err := storeCommit(h.repo.repo.Storer, commit)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("error storing commit: %w", err)
	}

	// Chain the next commit off this one.
	h.parentCommitHash = commitHash
	return commitHash, nil
}

func storeBlob(store storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	eo := store.NewEncodedObject()
	eo.SetType(plumbing.BlobObject)

	w, err := eo.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}

	return store.SetEncodedObject(eo)
}

func storeTree(store storer.EncodedObjectStorer, tree *object.Tree) (plumbing.Hash, error) {
	eo := store.NewEncodedObject()
	if err := tree.Encode(eo); err != nil {
		return plumbing.ZeroHash, err
	}
	return store.SetEncodedObject(eo)
}

func storeCommit(store storer.EncodedObjectStorer, commit *object.Commit) (plumbing.Hash, error) {
	eo := store.NewEncodedObject()
	if err := commit.Encode(eo); err != nil {
		return plumbing.ZeroHash, err
	}
	return store.SetEncodedObject(eo)
}
