// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package githubint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-github/v62/github"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
)

var ErrNoGithubToken = errors.New("GITHUB_TOKEN is not set")

// wrapper around the github package - which provides only the methods
// we need
type CommentsClient interface {
	Whoami(ctx context.Context) (*github.User, *github.Response, error)
	ListComments(ctx context.Context, owner string, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error)
	CreateComment(ctx context.Context, owner string, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	EditComment(ctx context.Context, owner string, repo string, commentID int64, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
}

type githubClient struct {
	*github.Client
}

func NewGithubClient(token string) (githubClient, error) {
	if token == "" {
		return githubClient{}, ErrNoGithubToken
	}
	return githubClient{Client: github.NewClient(nil).WithAuthToken(token)}, nil
}

func (client githubClient) Whoami(ctx context.Context) (*github.User, *github.Response, error) {
	return client.Users.Get(ctx, "")
}

func (client githubClient) ListComments(ctx context.Context, owner string, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error) {
	return client.Issues.ListComments(ctx, owner, repo, number, opts)
}

func (client githubClient) CreateComment(ctx context.Context, owner string, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	return client.Issues.CreateComment(ctx, owner, repo, number, comment)
}

func (client githubClient) EditComment(ctx context.Context, owner string, repo string, commentID int64, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	return client.Issues.EditComment(ctx, owner, repo, commentID, comment)
}

// ownerAndRepo splits the external id of a github project ("owner/repo").
func ownerAndRepo(project models.Project) (string, string, error) {
	owner, repo, ok := strings.Cut(project.ExternalID, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid github repository %q", project.ExternalID)
	}
	return owner, repo, nil
}

// CommentStore keeps the policy violation comment in the conversation of a pull request.
type CommentStore struct {
	client CommentsClient

	botOnce  sync.Once
	botLogin string
	botErr   error
}

func NewCommentStore(client CommentsClient) *CommentStore {
	return &CommentStore{client: client}
}

func (s *CommentStore) bot(ctx context.Context) (string, error) {
	s.botOnce.Do(func() {
		user, _, err := s.client.Whoami(ctx)
		if err != nil {
			s.botErr = fmt.Errorf("could not resolve the bot user: %w", err)
			return
		}
		s.botLogin = user.GetLogin()
	})
	return s.botLogin, s.botErr
}

func (s *CommentStore) FindBotComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest) (*dtos.BotComment, error) {
	owner, repo, err := ownerAndRepo(project)
	if err != nil {
		return nil, err
	}
	login, err := s.bot(ctx)
	if err != nil {
		return nil, err
	}
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := s.client.ListComments(ctx, owner, repo, mergeRequest.IID, opts)
		if err != nil {
			return nil, err
		}
		for _, comment := range comments {
			if comment.GetUser().GetLogin() != login {
				continue
			}
			if strings.HasPrefix(strings.TrimSpace(comment.GetBody()), dtos.BotCommentHeader) {
				return &dtos.BotComment{ID: strconv.FormatInt(comment.GetID(), 10), Body: comment.GetBody()}, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func (s *CommentStore) CreateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, body string) error {
	owner, repo, err := ownerAndRepo(project)
	if err != nil {
		return err
	}
	_, _, err = s.client.CreateComment(ctx, owner, repo, mergeRequest.IID, &github.IssueComment{Body: github.String(body)})
	return err
}

func (s *CommentStore) UpdateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, commentID string, body string) error {
	owner, repo, err := ownerAndRepo(project)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(commentID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid comment id %q: %w", commentID, err)
	}
	_, _, err = s.client.EditComment(ctx, owner, repo, id, &github.IssueComment{Body: github.String(body)})
	return err
}
