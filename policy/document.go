// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package policy

import (
	"fmt"

	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"gopkg.in/yaml.v3"
)

// FilePath is the location of the policy file inside a security policy repository.
const FilePath = ".gitlab/security-policies/policy.yml"

type RuleType string

const (
	RuleTypeScanFinding     RuleType = "scan_finding"
	RuleTypeLicenseFinding  RuleType = "license_finding"
	RuleTypeAnyMergeRequest RuleType = "any_merge_request"
)

// ReportType maps the rule onto the approval rule it creates.
func (t RuleType) ReportType() dtos.ApprovalReportType {
	switch t {
	case RuleTypeLicenseFinding:
		return dtos.ReportTypeLicenseScanning
	case RuleTypeAnyMergeRequest:
		return dtos.ReportTypeAnyMergeRequest
	}
	return dtos.ReportTypeScanFinding
}

type EnforcementType string

const (
	EnforcementEnforce EnforcementType = "enforce"
	EnforcementWarn    EnforcementType = "warn"
)

// BranchScope is shared by approval and scan execution rules.
type BranchScope struct {
	Branches         []string               `yaml:"branches"`
	BranchType       *dtos.BranchType       `yaml:"branch_type" validate:"omitempty,oneof=all protected default"`
	BranchExceptions []dtos.BranchException `yaml:"branch_exceptions"`
}

type ApprovalRule struct {
	Type RuleType `yaml:"type" validate:"required,oneof=scan_finding license_finding any_merge_request"`
	BranchScope `yaml:",inline"`

	Scanners                []dtos.ScanType               `yaml:"scanners"`
	VulnerabilitiesAllowed  int                           `yaml:"vulnerabilities_allowed" validate:"gte=0"`
	SeverityLevels          []dtos.Severity               `yaml:"severity_levels"`
	VulnerabilityStates     []dtos.VulnerabilityState     `yaml:"vulnerability_states"`
	VulnerabilityAttributes *dtos.VulnerabilityAttributes `yaml:"vulnerability_attributes"`

	MatchOnInclusionLicense *bool    `yaml:"match_on_inclusion_license"`
	LicenseTypes            []string `yaml:"license_types"`
	LicenseStates           []string `yaml:"license_states" validate:"dive,oneof=newly_detected detected"`

	Commits *dtos.CommitsType `yaml:"commits" validate:"omitempty,oneof=any unsigned"`
}

type ApprovalAction struct {
	Type              string `yaml:"type" validate:"required"`
	ApprovalsRequired int    `yaml:"approvals_required" validate:"gte=0,lte=100"`
}

type FallbackBehavior struct {
	Fail dtos.FallbackBehavior `yaml:"fail" validate:"omitempty,oneof=open closed"`
}

type ApprovalPolicy struct {
	Name             string             `yaml:"name" validate:"required"`
	Description      string             `yaml:"description"`
	Enabled          bool               `yaml:"enabled"`
	EnforcementType  EnforcementType    `yaml:"enforcement_type" validate:"omitempty,oneof=enforce warn"`
	Rules            []ApprovalRule     `yaml:"rules" validate:"required,min=1,dive"`
	Actions          []ApprovalAction   `yaml:"actions" validate:"dive"`
	FallbackBehavior *FallbackBehavior  `yaml:"fallback_behavior"`
	PolicyTuning     *dtos.PolicyTuning `yaml:"policy_tuning"`
}

// ApprovalsRequired sums the require_approval actions.
func (p ApprovalPolicy) ApprovalsRequired() int {
	approvals := 0
	for _, action := range p.Actions {
		if action.Type == "require_approval" {
			approvals += action.ApprovalsRequired
		}
	}
	return approvals
}

// Fallback defaults to fail closed.
func (p ApprovalPolicy) Fallback() dtos.FallbackBehavior {
	if p.FallbackBehavior == nil || p.FallbackBehavior.Fail == "" {
		return dtos.FallbackClosed
	}
	return p.FallbackBehavior.Fail
}

type ExecutionRule struct {
	Type        string `yaml:"type" validate:"required,oneof=pipeline schedule"`
	BranchScope `yaml:",inline"`
}

type ExecutionAction struct {
	Scan dtos.ScanType `yaml:"scan" validate:"required"`
}

type ScanExecutionPolicy struct {
	Name    string            `yaml:"name" validate:"required"`
	Enabled bool              `yaml:"enabled"`
	Rules   []ExecutionRule   `yaml:"rules" validate:"required,min=1,dive"`
	Actions []ExecutionAction `yaml:"actions" validate:"required,min=1,dive"`
}

type Document struct {
	ApprovalPolicies []ApprovalPolicy `yaml:"approval_policy" validate:"dive"`
	// previous name of approval_policy
	ScanResultPolicies    []ApprovalPolicy      `yaml:"scan_result_policy" validate:"dive"`
	ScanExecutionPolicies []ScanExecutionPolicy `yaml:"scan_execution_policy" validate:"dive"`
}

// EnabledApprovalPolicies returns the enabled policies of both keys. The
// index of a policy is its position in that list.
func (d Document) EnabledApprovalPolicies() []ApprovalPolicy {
	var policies []ApprovalPolicy
	for _, p := range append(append([]ApprovalPolicy{}, d.ApprovalPolicies...), d.ScanResultPolicies...) {
		if p.Enabled {
			policies = append(policies, p)
		}
	}
	return policies
}

func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("could not parse policy file: %w", err)
	}
	if err := shared.V.Struct(doc); err != nil {
		return Document{}, fmt.Errorf("invalid policy file: %w", err)
	}
	return doc, nil
}
