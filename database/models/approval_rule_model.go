// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package models

import (
	"slices"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"gorm.io/datatypes"
)

// ScanResultPolicyRead is the snapshot of a single approval policy rule as it
// was read from the security policy repository.
type ScanResultPolicyRead struct {
	Model
	ProjectID   uuid.UUID `json:"projectId" gorm:"type:uuid;not null;uniqueIndex:idx_policy_reads_position"`
	PolicyIndex int       `json:"policyIndex" gorm:"not null;uniqueIndex:idx_policy_reads_position"`
	RuleIndex   int       `json:"ruleIndex" gorm:"not null;uniqueIndex:idx_policy_reads_position"`
	PolicyName  string    `json:"policyName" gorm:"not null"`

	FallbackBehavior dtos.FallbackBehavior `json:"fallbackBehavior" gorm:"not null;default:closed"`
	Commits          *dtos.CommitsType     `json:"commits"`
	LicenseStates    []string              `json:"licenseStates" gorm:"type:jsonb;serializer:json"`

	Licenses                datatypes.JSONType[dtos.LicensePolicy]           `json:"licenses"`
	VulnerabilityAttributes datatypes.JSONType[dtos.VulnerabilityAttributes] `json:"vulnerabilityAttributes"`
	PolicyTuning            datatypes.JSONType[dtos.PolicyTuning]            `json:"policyTuning"`
	BranchExceptions        datatypes.JSONSlice[dtos.BranchException]        `json:"branchExceptions"`

	BranchType *dtos.BranchType `json:"branchType"`
	Branches   []string         `json:"branches" gorm:"type:jsonb;serializer:json"`

	// warn mode policies never block, their violations are informational
	WarnMode bool `json:"warnMode"`
	// blob sha of the policy file the snapshot was built from
	ConfigurationSHA string `json:"configurationSha"`
}

func (ScanResultPolicyRead) TableName() string {
	return "scan_result_policy_reads"
}

func (p ScanResultPolicyRead) FailOpen() bool {
	return p.FallbackBehavior == dtos.FallbackOpen
}

func (p ScanResultPolicyRead) UnblockRulesUsingExecutionPolicies() bool {
	return p.PolicyTuning.Data().UnblockRulesUsingExecutionPolicies
}

// ApprovalRuleAttributes are shared between the project rule and its frozen
// merge request copy.
type ApprovalRuleAttributes struct {
	Name                   string                    `json:"name" gorm:"not null"`
	ReportType             dtos.ApprovalReportType   `json:"reportType" gorm:"not null"`
	Scanners               []dtos.ScanType           `json:"scanners" gorm:"type:jsonb;serializer:json"`
	SeverityLevels         []dtos.Severity           `json:"severityLevels" gorm:"type:jsonb;serializer:json"`
	VulnerabilityStates    []dtos.VulnerabilityState `json:"vulnerabilityStates" gorm:"type:jsonb;serializer:json"`
	VulnerabilitiesAllowed int                       `json:"vulnerabilitiesAllowed" gorm:"not null;default:0"`
	ApprovalsRequired      int                       `json:"approvalsRequired" gorm:"not null;default:0"`
}

// EffectiveVulnerabilityStates treats an empty list as both new states.
func (a ApprovalRuleAttributes) EffectiveVulnerabilityStates() []dtos.VulnerabilityState {
	if len(a.VulnerabilityStates) == 0 {
		return dtos.NewlyDetectedStates
	}
	return a.VulnerabilityStates
}

func (a ApprovalRuleAttributes) NewStates() []dtos.VulnerabilityState {
	return slices.DeleteFunc(slices.Clone(a.EffectiveVulnerabilityStates()), func(s dtos.VulnerabilityState) bool {
		return !s.IsNew()
	})
}

func (a ApprovalRuleAttributes) PreviouslyExistingStates() []dtos.VulnerabilityState {
	return slices.DeleteFunc(slices.Clone(a.EffectiveVulnerabilityStates()), func(s dtos.VulnerabilityState) bool {
		return s.IsNew()
	})
}

func (a ApprovalRuleAttributes) OnlyNewStates() bool {
	return len(a.PreviouslyExistingStates()) == 0
}

func (a ApprovalRuleAttributes) OnlyPreviouslyExistingStates() bool {
	return len(a.NewStates()) == 0
}

type ApprovalProjectRule struct {
	Model
	ProjectID uuid.UUID `json:"projectId" gorm:"type:uuid;not null;index"`
	ApprovalRuleAttributes

	ScanResultPolicyReadID *uuid.UUID            `json:"scanResultPolicyReadId" gorm:"type:uuid;uniqueIndex"`
	ScanResultPolicyRead   *ScanResultPolicyRead `json:"scanResultPolicyRead,omitempty" gorm:"foreignKey:ScanResultPolicyReadID;constraint:OnDelete:CASCADE;"`
}

func (ApprovalProjectRule) TableName() string {
	return "approval_project_rules"
}

// ApprovalMergeRequestRule is the copy of a project rule for a single merge
// request. There is at most one copy per project rule. Only approvals_required
// is written by the evaluation.
type ApprovalMergeRequestRule struct {
	Model
	MergeRequestID uuid.UUID `json:"mergeRequestId" gorm:"type:uuid;not null;index;uniqueIndex:idx_approval_merge_request_rules_project_rule"`
	ApprovalRuleAttributes

	ApprovalProjectRuleID *uuid.UUID           `json:"approvalProjectRuleId" gorm:"type:uuid;uniqueIndex:idx_approval_merge_request_rules_project_rule"`
	ApprovalProjectRule   *ApprovalProjectRule `json:"approvalProjectRule,omitempty" gorm:"foreignKey:ApprovalProjectRuleID"`

	ScanResultPolicyReadID *uuid.UUID            `json:"scanResultPolicyReadId" gorm:"type:uuid"`
	ScanResultPolicyRead   *ScanResultPolicyRead `json:"scanResultPolicyRead,omitempty" gorm:"foreignKey:ScanResultPolicyReadID"`
}

func (ApprovalMergeRequestRule) TableName() string {
	return "approval_merge_request_rules"
}

// ConfiguredApprovalsRequired is the value of the project rule the merge
// request rule was copied from.
func (r ApprovalMergeRequestRule) ConfiguredApprovalsRequired() int {
	if r.ApprovalProjectRule == nil {
		return r.ApprovalsRequired
	}
	return r.ApprovalProjectRule.ApprovalsRequired
}
