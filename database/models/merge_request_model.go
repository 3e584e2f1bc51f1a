// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"time"

	"github.com/google/uuid"
)

type MergeRequestState string

const (
	MergeRequestStateOpened MergeRequestState = "opened"
	MergeRequestStateClosed MergeRequestState = "closed"
	MergeRequestStateMerged MergeRequestState = "merged"
	MergeRequestStateLocked MergeRequestState = "locked"
)

type MergeRequest struct {
	Model
	ProjectID uuid.UUID `json:"projectId" gorm:"type:uuid;not null;index"`
	Project   Project   `json:"project" gorm:"foreignKey:ProjectID"`
	// iid on the forge
	IID      int        `json:"iid" gorm:"not null"`
	Title    string     `json:"title"`
	AuthorID *uuid.UUID `json:"authorId" gorm:"type:uuid"`
	Weight   *int       `json:"weight"`

	SourceBranch string            `json:"sourceBranch" gorm:"not null"`
	TargetBranch string            `json:"targetBranch" gorm:"not null"`
	State        MergeRequestState `json:"state" gorm:"not null;default:opened"`

	DiffBaseSHA  *string `json:"diffBaseSha"`
	DiffStartSHA *string `json:"diffStartSha"`
	DiffHeadSHA  *string `json:"diffHeadSha"`

	HeadPipelineID *uuid.UUID `json:"headPipelineId" gorm:"type:uuid"`
	MergedAt       *time.Time `json:"mergedAt"`
	ClosedAt       *time.Time `json:"closedAt"`

	Commits []MergeRequestCommit `json:"commits" gorm:"foreignKey:MergeRequestID"`
}

func (MergeRequest) TableName() string {
	return "merge_requests"
}

func (m MergeRequest) IsMerged() bool {
	return m.State == MergeRequestStateMerged
}

type MergeRequestCommit struct {
	Model
	MergeRequestID uuid.UUID `json:"mergeRequestId" gorm:"type:uuid;not null;index"`
	SHA            string    `json:"sha" gorm:"not null"`
	Signed         bool      `json:"signed"`
}

func (MergeRequestCommit) TableName() string {
	return "merge_request_commits"
}
