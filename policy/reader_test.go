// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitPolicy(t *testing.T, dir string, content string) {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	if err != nil {
		repo, err = git.PlainInit(dir, false)
		require.NoError(t, err)
	}
	full := filepath.Join(dir, FilePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(FilePath)
	require.NoError(t, err)
	_, err = wt.Commit("update policy", &git.CommitOptions{
		Author: &object.Signature{Name: "bot", Email: "bot@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestGitReader(t *testing.T) {
	t.Run("should read and cache the policy at HEAD", func(t *testing.T) {
		root := t.TempDir()
		commitPolicy(t, filepath.Join(root, "group", "policies"), policyYAML)

		reader, err := NewGitReader(root, 8, 5*time.Second)
		require.NoError(t, err)

		blob, err := reader.Read(context.Background(), "group/policies", "HEAD")
		require.NoError(t, err)
		assert.NotEmpty(t, blob.SHA)
		assert.Len(t, blob.Document.EnabledApprovalPolicies(), 2)

		again, err := reader.Read(context.Background(), "group/policies", "HEAD")
		require.NoError(t, err)
		assert.Equal(t, blob.SHA, again.SHA)
		assert.Equal(t, 1, reader.cache.Len())
	})

	t.Run("should return a new sha once the policy changes", func(t *testing.T) {
		root := t.TempDir()
		dir := filepath.Join(root, "policies")
		commitPolicy(t, dir, policyYAML)

		reader, err := NewGitReader(root, 8, 5*time.Second)
		require.NoError(t, err)
		first, err := reader.Read(context.Background(), "policies", "HEAD")
		require.NoError(t, err)

		commitPolicy(t, dir, "approval_policy: []\n")
		second, err := reader.Read(context.Background(), "policies", "HEAD")
		require.NoError(t, err)

		assert.NotEqual(t, first.SHA, second.SHA)
		assert.Empty(t, second.Document.EnabledApprovalPolicies())
	})

	t.Run("should not leave the root directory", func(t *testing.T) {
		reader, err := NewGitReader(t.TempDir(), 8, time.Second)
		require.NoError(t, err)

		_, err = reader.Read(context.Background(), "../../etc", "HEAD")
		assert.Error(t, err)
	})

	t.Run("should fail when the repository does not exist", func(t *testing.T) {
		reader, err := NewGitReader(t.TempDir(), 8, time.Second)
		require.NoError(t, err)

		_, err = reader.Read(context.Background(), "missing", "HEAD")
		assert.Error(t, err)
	})
}
