// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"time"

	"github.com/google/uuid"
)

type IssueState string

const (
	IssueStateOpened IssueState = "opened"
	IssueStateClosed IssueState = "closed"
)

type Issue struct {
	Model
	ProjectID       uuid.UUID  `json:"projectId" gorm:"type:uuid;not null;index"`
	IID             int        `json:"iid" gorm:"not null"`
	Title           string     `json:"title"`
	State           IssueState `json:"state" gorm:"not null;default:opened"`
	AuthorID        *uuid.UUID `json:"authorId" gorm:"type:uuid"`
	Weight          *int       `json:"weight"`
	ClosedAt        *time.Time `json:"closedAt"`
	FirstAssignedAt *time.Time `json:"firstAssignedAt"`
}

func (Issue) TableName() string {
	return "issues"
}

type LabelAction string

const (
	LabelActionAdd    LabelAction = "add"
	LabelActionRemove LabelAction = "remove"
)

type ResourceLabelEvent struct {
	Model
	IssueID        *uuid.UUID  `json:"issueId" gorm:"type:uuid;index"`
	MergeRequestID *uuid.UUID  `json:"mergeRequestId" gorm:"type:uuid;index"`
	LabelID        uuid.UUID   `json:"labelId" gorm:"type:uuid;not null"`
	Action         LabelAction `json:"action" gorm:"not null"`
}

func (ResourceLabelEvent) TableName() string {
	return "resource_label_events"
}

type ValueStreamStage struct {
	Model
	NamespaceID          uuid.UUID  `json:"namespaceId" gorm:"type:uuid;not null;index"`
	Name                 string     `json:"name" gorm:"not null"`
	StartEventIdentifier string     `json:"startEventIdentifier" gorm:"not null"`
	EndEventIdentifier   string     `json:"endEventIdentifier" gorm:"not null"`
	StartEventLabelID    *uuid.UUID `json:"startEventLabelId" gorm:"type:uuid"`
	EndEventLabelID      *uuid.UUID `json:"endEventLabelId" gorm:"type:uuid"`
	StageEventHashID     int64      `json:"stageEventHashId" gorm:"not null;index"`
}

func (ValueStreamStage) TableName() string {
	return "value_stream_stages"
}

// StageEvent is a denormalized row which can be rebuilt from the issuable at
// any time.
type StageEvent struct {
	StageEventHashID       int64      `json:"stageEventHashId" gorm:"primaryKey;autoIncrement:false"`
	IssuableID             uuid.UUID  `json:"issuableId" gorm:"primaryKey;type:uuid"`
	GroupID                uuid.UUID  `json:"groupId" gorm:"type:uuid;not null"`
	ProjectID              uuid.UUID  `json:"projectId" gorm:"type:uuid;not null"`
	StartEventTimestamp    time.Time  `json:"startEventTimestamp" gorm:"not null"`
	EndEventTimestamp      *time.Time `json:"endEventTimestamp"`
	DurationInMilliseconds *int64     `json:"durationInMilliseconds"`
	State                  string     `json:"state" gorm:"not null"`
	AuthorID               *uuid.UUID `json:"authorId" gorm:"type:uuid"`
	Weight                 *int       `json:"weight"`
}

type IssueStageEvent struct {
	StageEvent
}

func (IssueStageEvent) TableName() string {
	return "analytics_cycle_analytics_issue_stage_events"
}

type MergeRequestStageEvent struct {
	StageEvent
}

func (MergeRequestStageEvent) TableName() string {
	return "analytics_cycle_analytics_merge_request_stage_events"
}

// IssuableRecord is the common view on issues and merge requests the stage
// event loader works with. It is not a table.
type IssuableRecord struct {
	ID              uuid.UUID
	ProjectID       uuid.UUID
	State           string
	AuthorID        *uuid.UUID
	Weight          *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
	MergedAt        *time.Time
	FirstAssignedAt *time.Time
}
