// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package policy

import (
	"testing"

	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyYAML = `
approval_policy:
  - name: critical vulnerabilities
    enabled: true
    rules:
      - type: scan_finding
        branches: [main]
        branch_exceptions:
          - release
          - name: hotfix
            full_path: group/project
        scanners: [sast, dependency_scanning]
        vulnerabilities_allowed: 1
        severity_levels: [high, critical]
        vulnerability_states: [new_needs_triage]
        vulnerability_attributes:
          fix_available: true
    actions:
      - type: require_approval
        approvals_required: 2
      - type: send_bot_message
    fallback_behavior:
      fail: open
    policy_tuning:
      unblock_rules_using_execution_policies: true
  - name: disabled
    enabled: false
    rules:
      - type: any_merge_request
        branch_type: protected
        commits: unsigned
scan_result_policy:
  - name: licenses
    enabled: true
    rules:
      - type: license_finding
        branch_type: default
        match_on_inclusion_license: true
        license_types: [GPL-3.0]
        license_states: [newly_detected]
scan_execution_policy:
  - name: run sast
    enabled: true
    rules:
      - type: pipeline
        branch_type: all
    actions:
      - scan: sast
`

func TestParse(t *testing.T) {
	t.Run("should parse approval, legacy and execution policies", func(t *testing.T) {
		doc, err := Parse([]byte(policyYAML))
		require.NoError(t, err)

		require.Len(t, doc.ApprovalPolicies, 2)
		require.Len(t, doc.ScanResultPolicies, 1)
		require.Len(t, doc.ScanExecutionPolicies, 1)

		p := doc.ApprovalPolicies[0]
		assert.Equal(t, 2, p.ApprovalsRequired())
		assert.Equal(t, dtos.FallbackOpen, p.Fallback())
		require.NotNil(t, p.PolicyTuning)
		assert.True(t, p.PolicyTuning.UnblockRulesUsingExecutionPolicies)

		rule := p.Rules[0]
		assert.Equal(t, dtos.ReportTypeScanFinding, rule.Type.ReportType())
		assert.Equal(t, []dtos.ScanType{dtos.ScanTypeSAST, dtos.ScanTypeDependencyScanning}, rule.Scanners)
		assert.Equal(t, []dtos.BranchException{{Name: "release"}, {Name: "hotfix", FullPath: "group/project"}}, rule.BranchExceptions)
		require.NotNil(t, rule.VulnerabilityAttributes)
		assert.True(t, *rule.VulnerabilityAttributes.FixAvailable)
		assert.Nil(t, rule.VulnerabilityAttributes.FalsePositive)
	})

	t.Run("should return only enabled approval policies of both keys", func(t *testing.T) {
		doc, err := Parse([]byte(policyYAML))
		require.NoError(t, err)

		enabled := doc.EnabledApprovalPolicies()
		require.Len(t, enabled, 2)
		assert.Equal(t, "critical vulnerabilities", enabled[0].Name)
		assert.Equal(t, "licenses", enabled[1].Name)
		assert.Equal(t, dtos.ReportTypeLicenseScanning, enabled[1].Rules[0].Type.ReportType())
	})

	t.Run("should default the fallback behavior to closed", func(t *testing.T) {
		assert.Equal(t, dtos.FallbackClosed, ApprovalPolicy{}.Fallback())
		assert.Equal(t, dtos.FallbackClosed, ApprovalPolicy{FallbackBehavior: &FallbackBehavior{}}.Fallback())
	})

	t.Run("should reject unknown rule types", func(t *testing.T) {
		_, err := Parse([]byte(`
approval_policy:
  - name: broken
    enabled: true
    rules:
      - type: something_else
`))
		assert.Error(t, err)
	})

	t.Run("should reject invalid commits values", func(t *testing.T) {
		_, err := Parse([]byte(`
approval_policy:
  - name: broken
    enabled: true
    rules:
      - type: any_merge_request
        commits: signed
`))
		assert.Error(t, err)
	})

	t.Run("should reject policies without rules", func(t *testing.T) {
		_, err := Parse([]byte(`
approval_policy:
  - name: broken
    enabled: true
`))
		assert.Error(t, err)
	})

	t.Run("should fail on malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("approval_policy: ["))
		assert.Error(t, err)
	})
}
