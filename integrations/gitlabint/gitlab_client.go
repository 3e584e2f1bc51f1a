// Copyright (C) 2024 Tim Bastin, l3montree GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package gitlabint

import (
	"context"
	"errors"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

var ErrNoGitlabToken = errors.New("GITLAB_TOKEN is not set")

// wrapper around the gitlab package - which provides only the methods
// the comment store needs
type NotesClient interface {
	Whoami(ctx context.Context) (*gitlab.User, *gitlab.Response, error)
	ListMergeRequestNotes(ctx context.Context, projectID string, mergeRequestIID int, opt *gitlab.ListMergeRequestNotesOptions) ([]*gitlab.Note, *gitlab.Response, error)
	CreateMergeRequestNote(ctx context.Context, projectID string, mergeRequestIID int, opt *gitlab.CreateMergeRequestNoteOptions) (*gitlab.Note, *gitlab.Response, error)
	UpdateMergeRequestNote(ctx context.Context, projectID string, mergeRequestIID int, noteID int, opt *gitlab.UpdateMergeRequestNoteOptions) (*gitlab.Note, *gitlab.Response, error)
}

type gitlabClient struct {
	*gitlab.Client
}

func NewGitlabClient(token string, baseURL string) (gitlabClient, error) {
	if token == "" {
		return gitlabClient{}, ErrNoGitlabToken
	}
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return gitlabClient{}, err
	}
	return gitlabClient{Client: client}, nil
}

func (client gitlabClient) Whoami(ctx context.Context) (*gitlab.User, *gitlab.Response, error) {
	return client.Users.CurrentUser(gitlab.WithContext(ctx))
}

func (client gitlabClient) ListMergeRequestNotes(ctx context.Context, projectID string, mergeRequestIID int, opt *gitlab.ListMergeRequestNotesOptions) ([]*gitlab.Note, *gitlab.Response, error) {
	return client.Notes.ListMergeRequestNotes(projectID, mergeRequestIID, opt, gitlab.WithContext(ctx))
}

func (client gitlabClient) CreateMergeRequestNote(ctx context.Context, projectID string, mergeRequestIID int, opt *gitlab.CreateMergeRequestNoteOptions) (*gitlab.Note, *gitlab.Response, error) {
	return client.Notes.CreateMergeRequestNote(projectID, mergeRequestIID, opt, gitlab.WithContext(ctx))
}

func (client gitlabClient) UpdateMergeRequestNote(ctx context.Context, projectID string, mergeRequestIID int, noteID int, opt *gitlab.UpdateMergeRequestNoteOptions) (*gitlab.Note, *gitlab.Response, error) {
	return client.Notes.UpdateMergeRequestNote(projectID, mergeRequestIID, noteID, opt, gitlab.WithContext(ctx))
}

// FetchPaginatedData follows the next page header until the last page.
func FetchPaginatedData[T any](fetchPage func(page int) ([]T, *gitlab.Response, error)) ([]T, error) {
	allData, response, err := fetchPage(1)
	if err != nil {
		return nil, err
	}
	for response != nil && response.NextPage != 0 {
		var pageData []T
		pageData, response, err = fetchPage(response.NextPage)
		if err != nil {
			return nil, err
		}
		allData = append(allData, pageData...)
	}
	return allData, nil
}
