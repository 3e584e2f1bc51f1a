// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package gitlabint

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// CommentStore keeps the policy violation comment in the notes of a merge request.
type CommentStore struct {
	client NotesClient

	botOnce sync.Once
	botID   int
	botErr  error
}

func NewCommentStore(client NotesClient) *CommentStore {
	return &CommentStore{client: client}
}

func (s *CommentStore) bot(ctx context.Context) (int, error) {
	s.botOnce.Do(func() {
		user, _, err := s.client.Whoami(ctx)
		if err != nil {
			s.botErr = fmt.Errorf("could not resolve the bot user: %w", err)
			return
		}
		s.botID = user.ID
	})
	return s.botID, s.botErr
}

func (s *CommentStore) FindBotComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest) (*dtos.BotComment, error) {
	botID, err := s.bot(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := FetchPaginatedData(func(page int) ([]*gitlab.Note, *gitlab.Response, error) {
		return s.client.ListMergeRequestNotes(ctx, project.ExternalID, mergeRequest.IID, &gitlab.ListMergeRequestNotesOptions{
			ListOptions: gitlab.ListOptions{Page: page, PerPage: 100},
		})
	})
	if err != nil {
		return nil, err
	}
	for _, note := range notes {
		if note.System || note.Author.ID != botID {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(note.Body), dtos.BotCommentHeader) {
			return &dtos.BotComment{ID: strconv.Itoa(note.ID), Body: note.Body}, nil
		}
	}
	return nil, nil
}

func (s *CommentStore) CreateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, body string) error {
	_, _, err := s.client.CreateMergeRequestNote(ctx, project.ExternalID, mergeRequest.IID, &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	})
	return err
}

func (s *CommentStore) UpdateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, commentID string, body string) error {
	noteID, err := strconv.Atoi(commentID)
	if err != nil {
		return fmt.Errorf("invalid note id %q: %w", commentID, err)
	}
	_, _, err = s.client.UpdateMergeRequestNote(ctx, project.ExternalID, mergeRequest.IID, noteID, &gitlab.UpdateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	})
	return err
}
