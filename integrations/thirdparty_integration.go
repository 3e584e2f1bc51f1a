package integrations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/integrations/githubint"
	"github.com/l3montree-dev/devguard-policy/integrations/gitlabint"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
)

// thirdPartyCommentStores dispatches on the forge the project lives on.
type thirdPartyCommentStores struct {
	stores map[models.ProjectProvider]shared.BotCommentStore
}

var _ shared.BotCommentStore = &thirdPartyCommentStores{}

func NewThirdPartyCommentStores(stores map[models.ProjectProvider]shared.BotCommentStore) *thirdPartyCommentStores {
	return &thirdPartyCommentStores{stores: stores}
}

// NewCommentStoresFromEnv configures a store for every forge which has a token.
func NewCommentStoresFromEnv() *thirdPartyCommentStores {
	stores := make(map[models.ProjectProvider]shared.BotCommentStore)

	gitlabClient, err := gitlabint.NewGitlabClient(utils.GetEnvOrDefault("GITLAB_TOKEN", ""), utils.GetEnvOrDefault("GITLAB_BASE_URL", "https://gitlab.com"))
	if err != nil {
		slog.Warn("gitlab comments disabled", "err", err)
	} else {
		stores[models.ProviderGitLab] = gitlabint.NewCommentStore(gitlabClient)
	}

	githubClient, err := githubint.NewGithubClient(utils.GetEnvOrDefault("GITHUB_TOKEN", ""))
	if err != nil {
		slog.Warn("github comments disabled", "err", err)
	} else {
		stores[models.ProviderGitHub] = githubint.NewCommentStore(githubClient)
	}
	return NewThirdPartyCommentStores(stores)
}

func (t *thirdPartyCommentStores) store(project models.Project) (shared.BotCommentStore, error) {
	provider := project.Provider
	if provider == "" {
		provider = models.ProviderGitLab
	}
	store, ok := t.stores[provider]
	if !ok {
		return nil, fmt.Errorf("no comment store configured for provider %s", provider)
	}
	return store, nil
}

func (t *thirdPartyCommentStores) FindBotComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest) (*dtos.BotComment, error) {
	store, err := t.store(project)
	if err != nil {
		return nil, err
	}
	return store.FindBotComment(ctx, project, mergeRequest)
}

func (t *thirdPartyCommentStores) CreateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, body string) error {
	store, err := t.store(project)
	if err != nil {
		return err
	}
	return store.CreateComment(ctx, project, mergeRequest, body)
}

func (t *thirdPartyCommentStores) UpdateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, commentID string, body string) error {
	store, err := t.store(project)
	if err != nil {
		return err
	}
	return store.UpdateComment(ctx, project, mergeRequest, commentID, body)
}
