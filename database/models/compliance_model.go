// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/dtos"
)

type ComplianceFramework struct {
	Model
	NamespaceID uuid.UUID `json:"namespaceId" gorm:"type:uuid;not null;uniqueIndex:idx_frameworks_namespace_name"`
	Namespace   Namespace `json:"namespace" gorm:"foreignKey:NamespaceID"`
	Name        string    `json:"name" gorm:"not null;uniqueIndex:idx_frameworks_namespace_name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
}

func (ComplianceFramework) TableName() string {
	return "compliance_frameworks"
}

type ComplianceRequirement struct {
	Model
	FrameworkID uuid.UUID            `json:"frameworkId" gorm:"type:uuid;not null;uniqueIndex:idx_requirements_framework_name"`
	Framework   *ComplianceFramework `json:"framework,omitempty" gorm:"foreignKey:FrameworkID;constraint:OnDelete:CASCADE;"`
	NamespaceID uuid.UUID            `json:"namespaceId" gorm:"type:uuid;not null"`
	Name        string               `json:"name" gorm:"not null;uniqueIndex:idx_requirements_framework_name"`
	Description string               `json:"description"`
}

func (ComplianceRequirement) TableName() string {
	return "compliance_requirements"
}

type ComplianceRequirementsControl struct {
	Model
	RequirementID uuid.UUID              `json:"requirementId" gorm:"type:uuid;not null"`
	Requirement   *ComplianceRequirement `json:"requirement,omitempty" gorm:"foreignKey:RequirementID;constraint:OnDelete:CASCADE;"`
	NamespaceID   uuid.UUID              `json:"namespaceId" gorm:"type:uuid;not null"`
	Name          string                 `json:"name" gorm:"not null"`
	ControlType   dtos.ControlType       `json:"controlType" gorm:"not null;default:0"`

	Expression          *string `json:"expression"`
	ExternalURL         *string `json:"externalUrl"`
	SecretToken         *string `json:"-"`
	ExternalControlName *string `json:"externalControlName"`
}

func (ComplianceRequirementsControl) TableName() string {
	return "compliance_requirements_controls"
}

func (c ComplianceRequirementsControl) IsExternal() bool {
	return c.ControlType == dtos.ControlTypeExternal
}

type ComplianceFrameworkProjectSetting struct {
	Model
	ProjectID   uuid.UUID            `json:"projectId" gorm:"type:uuid;not null;uniqueIndex:idx_framework_settings_project_framework"`
	FrameworkID uuid.UUID            `json:"frameworkId" gorm:"type:uuid;not null;uniqueIndex:idx_framework_settings_project_framework"`
	Framework   *ComplianceFramework `json:"framework,omitempty" gorm:"foreignKey:FrameworkID;constraint:OnDelete:CASCADE;"`
}

func (ComplianceFrameworkProjectSetting) TableName() string {
	return "compliance_framework_project_settings"
}

type ProjectControlComplianceStatus struct {
	Model
	ProjectID           uuid.UUID             `json:"projectId" gorm:"type:uuid;not null;uniqueIndex:idx_control_statuses_project_control"`
	NamespaceID         uuid.UUID             `json:"namespaceId" gorm:"type:uuid;not null"`
	ControlID           uuid.UUID             `json:"controlId" gorm:"column:compliance_requirements_control_id;type:uuid;not null;uniqueIndex:idx_control_statuses_project_control"`
	RequirementID       uuid.UUID             `json:"requirementId" gorm:"column:compliance_requirement_id;type:uuid;not null"`
	RequirementStatusID *uuid.UUID            `json:"requirementStatusId" gorm:"column:requirement_status_id;type:uuid"`
	Status              dtos.ComplianceStatus `json:"status" gorm:"not null"`
}

func (ProjectControlComplianceStatus) TableName() string {
	return "project_control_compliance_statuses"
}

type ProjectRequirementComplianceStatus struct {
	Model
	ProjectID     uuid.UUID `json:"projectId" gorm:"type:uuid;not null;uniqueIndex:idx_requirement_statuses_project_requirement"`
	NamespaceID   uuid.UUID `json:"namespaceId" gorm:"type:uuid;not null"`
	RequirementID uuid.UUID `json:"requirementId" gorm:"column:compliance_requirement_id;type:uuid;not null;uniqueIndex:idx_requirement_statuses_project_requirement"`
	FrameworkID   uuid.UUID `json:"frameworkId" gorm:"column:compliance_framework_id;type:uuid;not null"`
	PassCount     int       `json:"passCount" gorm:"not null;default:0"`
	FailCount     int       `json:"failCount" gorm:"not null;default:0"`
	PendingCount  int       `json:"pendingCount" gorm:"not null;default:0"`
}

func (ProjectRequirementComplianceStatus) TableName() string {
	return "project_requirement_compliance_statuses"
}
