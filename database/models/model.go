// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model is embedded into every entity with a generated uuid primary key.
// The database default exists as well, the hook keeps ids available before the
// insert returns (sqlite has no gen_random_uuid).
type Model struct {
	ID        uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m Model) GetID() uuid.UUID {
	return m.ID
}

func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

type Config struct {
	Key string `gorm:"primarykey"`
	Val string `gorm:"type:text"`
}

func (Config) TableName() string {
	return "configs"
}

// All lists every table model. Used to create the schema of test databases.
func All() []any {
	return []any{
		&Config{},
		&Namespace{},
		&Project{},
		&Pipeline{},
		&SecurityScan{},
		&Finding{},
		&PipelineDependency{},
		&Vulnerability{},
		&MergeRequest{},
		&MergeRequestCommit{},
		&ScanResultPolicyRead{},
		&ApprovalProjectRule{},
		&ApprovalMergeRequestRule{},
		&ScanResultPolicyViolation{},
		&ComplianceFramework{},
		&ComplianceRequirement{},
		&ComplianceRequirementsControl{},
		&ComplianceFrameworkProjectSetting{},
		&ProjectRequirementComplianceStatus{},
		&ProjectControlComplianceStatus{},
		&Issue{},
		&ResourceLabelEvent{},
		&ValueStreamStage{},
		&IssueStageEvent{},
		&MergeRequestStageEvent{},
	}
}
