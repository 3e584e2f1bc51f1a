// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrPolicyNotFound is returned when the repository has no policy file at the ref.
var ErrPolicyNotFound = errors.New("policy file not found")

// Blob is a parsed policy file together with the hash of its git blob.
type Blob struct {
	SHA      string
	Document Document
}

// GitReader reads policy files out of local clones of the security policy
// repositories. Parsed documents are cached by blob hash.
type GitReader struct {
	root    string
	timeout time.Duration
	cache   *lru.Cache[string, Document]
}

func NewGitReader(root string, cacheSize int, timeout time.Duration) (*GitReader, error) {
	cache, err := lru.New[string, Document](cacheSize)
	if err != nil {
		return nil, err
	}
	return &GitReader{root: root, timeout: timeout, cache: cache}, nil
}

// repositoryPath keeps the repository inside the configured root.
func (r *GitReader) repositoryPath(repository string) (string, error) {
	p := filepath.Join(r.root, filepath.Clean("/"+repository))
	if !strings.HasPrefix(p, filepath.Clean(r.root)+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid policy repository %q", repository)
	}
	return p, nil
}

// PolicyYAMLAt returns the raw policy file of the repository at ref.
func (r *GitReader) PolicyYAMLAt(ctx context.Context, repository, ref string) (string, string, error) {
	type result struct {
		content string
		sha     string
		err     error
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// go-git has no context support for local reads
	done := make(chan result, 1)
	go func() {
		content, sha, err := r.readBlob(repository, ref)
		done <- result{content: content, sha: sha, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", "", fmt.Errorf("could not read policy file of %s: %w", repository, ctx.Err())
	case res := <-done:
		return res.content, res.sha, res.err
	}
}

func (r *GitReader) readBlob(repository, ref string) (string, string, error) {
	repoPath, err := r.repositoryPath(repository)
	if err != nil {
		return "", "", err
	}
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", "", fmt.Errorf("could not open policy repository: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", "", fmt.Errorf("could not resolve %s: %w", ref, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return "", "", fmt.Errorf("could not read commit object: %w", err)
	}
	file, err := commit.File(FilePath)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", "", ErrPolicyNotFound
		}
		return "", "", fmt.Errorf("could not read policy file: %w", err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", "", fmt.Errorf("could not read policy blob: %w", err)
	}
	return content, file.Hash.String(), nil
}

// Read returns the parsed policy file of the repository at ref.
func (r *GitReader) Read(ctx context.Context, repository, ref string) (Blob, error) {
	content, sha, err := r.PolicyYAMLAt(ctx, repository, ref)
	if err != nil {
		return Blob{}, err
	}
	if doc, ok := r.cache.Get(sha); ok {
		return Blob{SHA: sha, Document: doc}, nil
	}
	doc, err := Parse([]byte(content))
	if err != nil {
		return Blob{}, err
	}
	r.cache.Add(sha, doc)
	return Blob{SHA: sha, Document: doc}, nil
}
