// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/statemachine"
	"github.com/l3montree-dev/devguard-policy/utils"
)

const unblockUsingExecutionPolicyEvent = "unblock_approval_rule_using_scan_execution_policy"

// scanEnforcer knows which scans the scan execution policies of a project run.
type scanEnforcer interface {
	EnforcedScanTypes(ctx context.Context, project models.Project, branch string) ([]dtos.ScanType, error)
}

// PolicyRuleEvaluationService records the outcome of the approval rules of a
// single report type on a merge request. Nothing is written before Save.
type PolicyRuleEvaluationService struct {
	mergeRequest models.MergeRequest
	project      models.Project
	reportType   dtos.ApprovalReportType

	approvalRuleRepository shared.ApprovalRuleRepository
	violations             *UpdateViolationsService
	enforcer               scanEnforcer
	tracker                shared.InternalEventTracker
	broker                 shared.PubSubBroker

	approvals map[uuid.UUID]int
	evaluated []models.ApprovalMergeRequestRule
}

func NewPolicyRuleEvaluationService(
	mergeRequest models.MergeRequest,
	project models.Project,
	reportType dtos.ApprovalReportType,
	approvalRuleRepository shared.ApprovalRuleRepository,
	violationRepository shared.ScanResultPolicyViolationRepository,
	enforcer scanEnforcer,
	tracker shared.InternalEventTracker,
	broker shared.PubSubBroker,
) *PolicyRuleEvaluationService {
	return &PolicyRuleEvaluationService{
		mergeRequest:           mergeRequest,
		project:                project,
		reportType:             reportType,
		approvalRuleRepository: approvalRuleRepository,
		violations:             NewUpdateViolationsService(mergeRequest, violationRepository, broker),
		enforcer:               enforcer,
		tracker:                tracker,
		broker:                 broker,
		approvals:              make(map[uuid.UUID]int),
	}
}

// Apply records the decision of the state machine for the rule.
func (s *PolicyRuleEvaluationService) Apply(rule models.ApprovalMergeRequestRule, decision statemachine.Decision, violation dtos.ReportViolation, errorCode dtos.ViolationErrorCode, missingScans []string, violationContext *dtos.ViolationContext) {
	s.evaluated = append(s.evaluated, rule)
	s.approvals[rule.ID] = statemachine.ApprovalsRequiredFor(decision.Approvals, s.currentApprovals(rule), rule.ConfiguredApprovalsRequired())
	monitoring.ApprovalRuleOutcomes.WithLabelValues(string(s.reportType), string(decision.State)).Inc()

	policy := rule.ScanResultPolicyRead
	if policy == nil {
		return
	}
	switch decision.Violation {
	case statemachine.ViolationRemove:
		s.violations.RemoveViolation(*policy)
	case statemachine.ViolationRecord:
		s.violations.AddViolation(*policy, s.reportType, violation, violationContext)
	case statemachine.ViolationRecordError, statemachine.ViolationRecordWarning:
		s.violations.AddError(*policy, errorCode, missingScans, violationContext)
	}
}

func (s *PolicyRuleEvaluationService) currentApprovals(rule models.ApprovalMergeRequestRule) int {
	if approvals, ok := s.approvals[rule.ID]; ok {
		return approvals
	}
	return rule.ApprovalsRequired
}

func (s *PolicyRuleEvaluationService) Fail(rule models.ApprovalMergeRequestRule, violation dtos.ReportViolation, violationContext *dtos.ViolationContext) {
	s.Apply(rule, statemachine.Decision{
		State:     statemachine.StateViolated,
		Approvals: statemachine.ApprovalsRestored,
		Violation: statemachine.ViolationRecord,
	}, violation, "", nil, violationContext)
}

func (s *PolicyRuleEvaluationService) Pass(rule models.ApprovalMergeRequestRule) {
	s.Apply(rule, statemachine.Decision{
		State:     statemachine.StateUnblocked,
		Approvals: statemachine.ApprovalsReset,
		Violation: statemachine.ViolationRemove,
	}, dtos.ReportViolation{}, "", nil, nil)
}

// Skip marks the rule as not evaluated. Fail open policies do not block.
func (s *PolicyRuleEvaluationService) Skip(rule models.ApprovalMergeRequestRule) {
	decision := statemachine.Decision{
		State:     statemachine.StateNotEvaluated,
		Approvals: statemachine.ApprovalsRestored,
		Violation: statemachine.ViolationRecordError,
	}
	if failOpen(rule) {
		decision.Approvals = statemachine.ApprovalsReset
		decision.Violation = statemachine.ViolationRecordWarning
	}
	s.Apply(rule, decision, dtos.ReportViolation{}, dtos.ErrorEvaluationSkipped, nil, nil)
}

// Error records an evaluation error. Missing scans enforced by a scan
// execution policy unblock the rule when its policy opted into it.
func (s *PolicyRuleEvaluationService) Error(ctx context.Context, rule models.ApprovalMergeRequestRule, code dtos.ViolationErrorCode, missingScans []string, violationContext *dtos.ViolationContext) {
	input := statemachine.RuleInput{
		Applicable:    true,
		MissingScans:  missingScans,
		Indeterminate: len(missingScans) == 0 || code == dtos.ErrorArtifactsMissing,
		FailOpen:      failOpen(rule),
	}
	if len(missingScans) > 0 && s.unblockableByExecutionPolicy(ctx, rule, missingScans) {
		input.MissingScansEnforced = true
		s.tracker.TrackEvent(unblockUsingExecutionPolicyEvent, map[string]any{
			"label":            strings.Join(missingScans, ","),
			"project_id":       s.project.ID.String(),
			"merge_request_id": s.mergeRequest.ID.String(),
		})
	}
	s.Apply(rule, statemachine.Decide(input), dtos.ReportViolation{}, code, missingScans, violationContext)
}

// Evaluate records the outcome of a rule evaluation.
func (s *PolicyRuleEvaluationService) Evaluate(ctx context.Context, rule models.ApprovalMergeRequestRule, outcome RuleOutcome, violationContext *dtos.ViolationContext) {
	if outcome.ErrorCode != "" {
		s.Error(ctx, rule, outcome.ErrorCode, outcome.MissingScans, violationContext)
		return
	}
	s.Apply(rule, statemachine.Decide(outcome.Input), outcome.Violation, "", nil, violationContext)
}

// excludable rules only look at findings the merge request introduces.
func excludable(rule models.ApprovalMergeRequestRule) bool {
	switch rule.ReportType {
	case dtos.ReportTypeScanFinding:
		return rule.OnlyNewStates()
	case dtos.ReportTypeLicenseScanning:
		if rule.ScanResultPolicyRead == nil {
			return false
		}
		states := rule.ScanResultPolicyRead.LicenseStates
		return len(states) > 0 && utils.All(states, func(state string) bool {
			return state == string(dtos.LicenseStateNewlyDetected)
		})
	}
	return false
}

func (s *PolicyRuleEvaluationService) unblockableByExecutionPolicy(ctx context.Context, rule models.ApprovalMergeRequestRule, missingScans []string) bool {
	if rule.ScanResultPolicyRead == nil || !rule.ScanResultPolicyRead.UnblockRulesUsingExecutionPolicies() || !excludable(rule) {
		return false
	}
	if s.enforcer == nil {
		return false
	}
	enforced, err := s.enforcer.EnforcedScanTypes(ctx, s.project, s.mergeRequest.TargetBranch)
	if err != nil {
		slog.Warn("could not read scan execution policies", "project_path", s.project.FullPath, "err", err)
		return false
	}
	return utils.All(missingScans, func(scan string) bool {
		return slices.Contains(enforced, dtos.ScanType(scan))
	})
}

// Save writes approvals and violations in one transaction and requests the
// bot comment once no violation of the report type is pending.
func (s *PolicyRuleEvaluationService) Save(ctx context.Context) error {
	if len(s.evaluated) == 0 {
		return nil
	}

	byApprovals := make(map[int][]uuid.UUID)
	for _, rule := range s.evaluated {
		approvals := s.approvals[rule.ID]
		if approvals == rule.ApprovalsRequired || slices.Contains(byApprovals[approvals], rule.ID) {
			continue
		}
		byApprovals[approvals] = append(byApprovals[approvals], rule.ID)
	}

	if err := s.violations.Prepare(ctx); err != nil {
		return err
	}
	var result ViolationsResult
	err := s.approvalRuleRepository.Transaction(func(tx shared.DB) error {
		for approvals, ids := range byApprovals {
			if err := s.approvalRuleRepository.UpdateApprovalsRequired(ctx, tx, ids, approvals); err != nil {
				return err
			}
		}
		var err error
		result, err = s.violations.ExecuteInTx(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}
	s.violations.PublishEvents(ctx, result)

	rules, err := s.approvalRuleRepository.FindMergeRequestRules(ctx, s.mergeRequest.ID, s.reportType)
	if err != nil {
		return err
	}
	policyIDs := make([]uuid.UUID, 0, len(rules))
	for _, rule := range rules {
		if rule.ScanResultPolicyReadID != nil {
			policyIDs = append(policyIDs, *rule.ScanResultPolicyReadID)
		}
	}
	if result.Pending(policyIDs) || !result.Changed {
		return nil
	}

	requiresApproval := slices.ContainsFunc(rules, func(rule models.ApprovalMergeRequestRule) bool {
		if s.currentApprovals(rule) == 0 || rule.ScanResultPolicyReadID == nil {
			return false
		}
		violation, ok := result.Remaining[*rule.ScanResultPolicyReadID]
		return ok && !violation.Warn()
	})

	event := dtos.GenerateCommentEvent{
		MergeRequestID:   s.mergeRequest.ID,
		ReportType:       s.reportType,
		Violated:         result.Violated(policyIDs),
		RequiresApproval: requiresApproval,
	}
	if err := s.broker.Publish(ctx, shared.NewSimplePubSubMessage(shared.GeneratePolicyComment, shared.PayloadOf(event))); err != nil {
		slog.Error("could not request policy comment", "merge_request_id", s.mergeRequest.ID, "err", err)
	}
	return nil
}
