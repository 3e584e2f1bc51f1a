package integrations

import (
	"context"
	"testing"

	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	created []string
}

func (r *recordingStore) FindBotComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest) (*dtos.BotComment, error) {
	return nil, nil
}

func (r *recordingStore) CreateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, body string) error {
	r.created = append(r.created, body)
	return nil
}

func (r *recordingStore) UpdateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, commentID string, body string) error {
	return nil
}

func TestThirdPartyCommentStores(t *testing.T) {
	t.Run("should dispatch on the provider of the project", func(t *testing.T) {
		gitlab := &recordingStore{}
		github := &recordingStore{}
		stores := NewThirdPartyCommentStores(map[models.ProjectProvider]shared.BotCommentStore{
			models.ProviderGitLab: gitlab,
			models.ProviderGitHub: github,
		})

		require.NoError(t, stores.CreateComment(context.Background(), models.Project{Provider: models.ProviderGitHub}, models.MergeRequest{}, "a"))
		require.NoError(t, stores.CreateComment(context.Background(), models.Project{}, models.MergeRequest{}, "b"))

		assert.Equal(t, []string{"a"}, github.created)
		assert.Equal(t, []string{"b"}, gitlab.created)
	})

	t.Run("should fail when the provider is not configured", func(t *testing.T) {
		stores := NewThirdPartyCommentStores(map[models.ProjectProvider]shared.BotCommentStore{})
		_, err := stores.FindBotComment(context.Background(), models.Project{Provider: models.ProviderGitHub}, models.MergeRequest{})
		assert.Error(t, err)
	})
}
