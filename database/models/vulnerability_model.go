// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/dtos"
)

// Vulnerability is never hard deleted, triage only changes its state.
type Vulnerability struct {
	Model
	ProjectID  uuid.UUID               `json:"projectId" gorm:"type:uuid;not null;uniqueIndex:idx_vulnerabilities_project_uuid"`
	UUID       string                  `json:"uuid" gorm:"not null;uniqueIndex:idx_vulnerabilities_project_uuid"`
	Title      string                  `json:"title"`
	State      dtos.VulnerabilityState `json:"state" gorm:"not null;default:detected"`
	Severity   dtos.Severity           `json:"severity" gorm:"not null"`
	ReportType dtos.ScanType           `json:"reportType" gorm:"not null"`
}

func (Vulnerability) TableName() string {
	return "vulnerabilities"
}

func (v Vulnerability) IsDismissed() bool {
	return v.State == dtos.VulnerabilityStateDismissed
}
