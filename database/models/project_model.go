// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"slices"

	"github.com/google/uuid"
)

type ProjectProvider string

const (
	ProviderGitLab ProjectProvider = "gitlab"
	ProviderGitHub ProjectProvider = "github"
)

type Project struct {
	Model
	Name        string    `json:"name" gorm:"not null"`
	FullPath    string    `json:"fullPath" gorm:"not null;uniqueIndex"`
	WebURL      string    `json:"webUrl"`
	NamespaceID uuid.UUID `json:"namespaceId" gorm:"type:uuid;not null"`
	Namespace   Namespace `json:"namespace" gorm:"foreignKey:NamespaceID"`

	// identifies the project on the forge, numeric id on gitlab and owner/repo on github
	ExternalID string          `json:"externalId"`
	Provider   ProjectProvider `json:"provider" gorm:"default:gitlab"`

	DefaultBranch     string   `json:"defaultBranch" gorm:"default:main"`
	ProtectedBranches []string `json:"protectedBranches" gorm:"type:jsonb;serializer:json"`
	Visibility        string   `json:"visibility" gorm:"default:private"`

	AuthSSOEnabled            bool `json:"authSsoEnabled"`
	PreventAuthorApproval     bool `json:"preventAuthorApproval"`
	PreventCommittersApproval bool `json:"preventCommittersApproval"`
	ResetApprovalsOnPush      bool `json:"resetApprovalsOnPush"`

	// repository (relative to the policy repositories root) holding .gitlab/security-policies/policy.yml
	SecurityPolicyRepository string `json:"securityPolicyRepository"`
}

func (Project) TableName() string {
	return "projects"
}

func (p Project) IsProtectedBranch(branch string) bool {
	return branch == p.DefaultBranch || slices.Contains(p.ProtectedBranches, branch)
}
