// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/dtos"
)

// ScanResultPolicyViolation only exists while a policy is violated (or
// evaluated with errors) for a merge request.
type ScanResultPolicyViolation struct {
	Model
	ProjectID              uuid.UUID            `json:"projectId" gorm:"type:uuid;not null"`
	MergeRequestID         uuid.UUID            `json:"mergeRequestId" gorm:"type:uuid;not null;uniqueIndex:idx_violations_mr_policy"`
	ScanResultPolicyReadID uuid.UUID            `json:"scanResultPolicyReadId" gorm:"type:uuid;not null;uniqueIndex:idx_violations_mr_policy"`
	ScanResultPolicyRead   ScanResultPolicyRead `json:"scanResultPolicyRead" gorm:"foreignKey:ScanResultPolicyReadID;constraint:OnDelete:CASCADE;"`

	Status dtos.ViolationStatus `json:"status" gorm:"not null;default:failed"`
	// nil while the evaluation that created the row is still running
	ViolationData *dtos.ViolationData `json:"violationData" gorm:"type:jsonb;serializer:json"`
}

func (ScanResultPolicyViolation) TableName() string {
	return "scan_result_policy_violations"
}

func (v ScanResultPolicyViolation) Pending() bool {
	return v.ViolationData == nil
}

func (v ScanResultPolicyViolation) Warn() bool {
	return v.Status == dtos.ViolationStatusWarn
}
