// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/dtos"
)

type PipelineSource string

const (
	PipelineSourcePush              PipelineSource = "push"
	PipelineSourceSchedule          PipelineSource = "schedule"
	PipelineSourceMergeRequestEvent PipelineSource = "merge_request_event"
	PipelineSourceParentPipeline    PipelineSource = "parent_pipeline"
	PipelineSourceWeb               PipelineSource = "web"
)

type PipelineStatus string

const (
	PipelineStatusRunning  PipelineStatus = "running"
	PipelineStatusSuccess  PipelineStatus = "success"
	PipelineStatusFailed   PipelineStatus = "failed"
	PipelineStatusCanceled PipelineStatus = "canceled"
)

type Pipeline struct {
	Model
	ProjectID      uuid.UUID      `json:"projectId" gorm:"type:uuid;not null;index"`
	Ref            string         `json:"ref" gorm:"not null"`
	SHA            string         `json:"sha" gorm:"not null"`
	Source         PipelineSource `json:"source" gorm:"not null;default:push"`
	Status         PipelineStatus `json:"status" gorm:"not null;default:running"`
	MergeRequestID *uuid.UUID     `json:"mergeRequestId" gorm:"type:uuid"`
	// only set for merged results pipelines
	TargetSHA  *string    `json:"targetSha"`
	FinishedAt *time.Time `json:"finishedAt"`

	SecurityScans []SecurityScan `json:"securityScans" gorm:"foreignKey:PipelineID"`
}

func (Pipeline) TableName() string {
	return "pipelines"
}

func (p Pipeline) IsMergedResult() bool {
	return p.Source == PipelineSourceMergeRequestEvent && p.TargetSHA != nil
}

type ScanStatus string

const (
	ScanStatusCreated   ScanStatus = "created"
	ScanStatusSucceeded ScanStatus = "succeeded"
	ScanStatusFailed    ScanStatus = "failed"
)

type SecurityScan struct {
	Model
	PipelineID uuid.UUID     `json:"pipelineId" gorm:"type:uuid;not null;index"`
	ProjectID  uuid.UUID     `json:"projectId" gorm:"type:uuid;not null"`
	ScanType   dtos.ScanType `json:"scanType" gorm:"not null"`
	Status     ScanStatus    `json:"status" gorm:"not null;default:created"`
}

func (SecurityScan) TableName() string {
	return "security_scans"
}

// Finding is immutable once its scan completed.
type Finding struct {
	Model
	ProjectID     uuid.UUID     `json:"projectId" gorm:"type:uuid;not null"`
	PipelineID    uuid.UUID     `json:"pipelineId" gorm:"type:uuid;not null;index"`
	ScanID        uuid.UUID     `json:"scanId" gorm:"type:uuid;not null;uniqueIndex:idx_findings_scan_uuid"`
	UUID          string        `json:"uuid" gorm:"not null;uniqueIndex:idx_findings_scan_uuid"`
	Name          string        `json:"name"`
	Location      string        `json:"location"`
	ReportType    dtos.ScanType `json:"reportType" gorm:"not null"`
	Severity      dtos.Severity `json:"severity" gorm:"not null"`
	FixAvailable  bool          `json:"fixAvailable"`
	FalsePositive bool          `json:"falsePositive"`
}

func (Finding) TableName() string {
	return "findings"
}

// PipelineDependency is a component of the dependency list of a pipeline
// together with its detected licenses.
type PipelineDependency struct {
	Model
	PipelineID uuid.UUID `json:"pipelineId" gorm:"type:uuid;not null;index"`
	ProjectID  uuid.UUID `json:"projectId" gorm:"type:uuid;not null"`
	Name       string    `json:"name" gorm:"not null"`
	Version    string    `json:"version"`
	Licenses   []string  `json:"licenses" gorm:"type:jsonb;serializer:json"`
}

func (PipelineDependency) TableName() string {
	return "pipeline_dependencies"
}
