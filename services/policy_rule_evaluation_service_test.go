package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func ruleWithPolicy(approvalsRequired int, policy models.ScanResultPolicyRead) models.ApprovalMergeRequestRule {
	rule := scanFindingRule()
	rule.ID = uuid.New()
	rule.ApprovalsRequired = approvalsRequired
	rule.ApprovalProjectRule = &models.ApprovalProjectRule{ApprovalRuleAttributes: models.ApprovalRuleAttributes{ApprovalsRequired: 2}}
	rule.ScanResultPolicyReadID = &policy.ID
	rule.ScanResultPolicyRead = &policy
	return rule
}

type evaluationHarness struct {
	rules      *memoryApprovalRuleRepository
	violations *memoryViolationRepository
	broker     *recordingBroker
	tracker    *recordingTracker
}

func newEvaluationHarness(rules ...models.ApprovalMergeRequestRule) *evaluationHarness {
	return &evaluationHarness{
		rules:      &memoryApprovalRuleRepository{rules: rules},
		violations: newMemoryViolationRepository(),
		broker:     &recordingBroker{},
		tracker:    &recordingTracker{},
	}
}

func (h *evaluationHarness) service(mergeRequest models.MergeRequest, enforcer scanEnforcer) *PolicyRuleEvaluationService {
	return NewPolicyRuleEvaluationService(mergeRequest, models.Project{Model: models.Model{ID: mergeRequest.ProjectID}}, dtos.ReportTypeScanFinding, h.rules, h.violations, enforcer, h.tracker, h.broker)
}

func (h *evaluationHarness) commentEvents(t *testing.T) []dtos.GenerateCommentEvent {
	var events []dtos.GenerateCommentEvent
	for _, m := range h.broker.messages {
		if m.GetChannel() != shared.GeneratePolicyComment {
			continue
		}
		var event dtos.GenerateCommentEvent
		require.NoError(t, shared.DecodePayload(m.GetPayload(), &event))
		events = append(events, event)
	}
	return events
}

func TestPolicyRuleEvaluationService(t *testing.T) {
	mergeRequest := models.MergeRequest{Model: models.Model{ID: uuid.New()}, ProjectID: uuid.New(), TargetBranch: "main"}

	t.Run("should restore the configured approvals of a violated rule and request a comment", func(t *testing.T) {
		policy := newPolicyRead("deps")
		rule := ruleWithPolicy(0, policy)
		h := newEvaluationHarness(rule)

		service := h.service(mergeRequest, nil)
		service.Evaluate(context.Background(), rule, RuleOutcome{
			Input:     statemachine.RuleInput{Applicable: true, ViolationCount: 1},
			Violation: newlyDetected("a"),
		}, nil)
		require.NoError(t, service.Save(context.Background()))

		assert.Equal(t, 2, h.rules.approvals[rule.ID])
		assert.Equal(t, dtos.ViolationStatusFailed, h.violations.rows[policy.ID].Status)

		events := h.commentEvents(t)
		require.Len(t, events, 1)
		assert.Equal(t, dtos.GenerateCommentEvent{
			MergeRequestID:   mergeRequest.ID,
			ReportType:       dtos.ReportTypeScanFinding,
			Violated:         true,
			RequiresApproval: true,
		}, events[0])
	})

	t.Run("should reset the approvals of a passing rule", func(t *testing.T) {
		policy := newPolicyRead("deps")
		rule := ruleWithPolicy(2, policy)
		h := newEvaluationHarness(rule)

		service := h.service(mergeRequest, nil)
		service.Evaluate(context.Background(), rule, RuleOutcome{Input: statemachine.RuleInput{Applicable: true}}, nil)
		require.NoError(t, service.Save(context.Background()))

		assert.Equal(t, 0, h.rules.approvals[rule.ID])
		assert.Empty(t, h.violations.rows)
		// nothing changed on the violations, so there is nothing to comment on
		assert.Empty(t, h.commentEvents(t))
	})

	t.Run("should keep the rule blocking when a scan is missing", func(t *testing.T) {
		policy := newPolicyRead("deps")
		rule := ruleWithPolicy(0, policy)
		h := newEvaluationHarness(rule)

		service := h.service(mergeRequest, nil)
		service.Evaluate(context.Background(), rule, RuleOutcome{
			ErrorCode:    dtos.ErrorScanRemoved,
			MissingScans: []string{"dependency_scanning"},
		}, nil)
		require.NoError(t, service.Save(context.Background()))

		assert.Equal(t, 2, h.rules.approvals[rule.ID])
		row := h.violations.rows[policy.ID]
		require.NotNil(t, row.ViolationData)
		assert.Equal(t, []dtos.ViolationErrorCode{dtos.ErrorScanRemoved}, row.ViolationData.ErrorCodes())
		assert.Equal(t, []string{"dependency_scanning"}, row.ViolationData.Errors[0].MissingScans)
		assert.Empty(t, h.tracker.events)
	})

	t.Run("should unblock missing scans enforced by a scan execution policy", func(t *testing.T) {
		policy := newPolicyRead("deps")
		policy.PolicyTuning = datatypes.NewJSONType(dtos.PolicyTuning{UnblockRulesUsingExecutionPolicies: true})
		rule := ruleWithPolicy(2, policy)
		h := newEvaluationHarness(rule)

		service := h.service(mergeRequest, staticEnforcer{dtos.ScanTypeDependencyScanning})
		service.Evaluate(context.Background(), rule, RuleOutcome{
			ErrorCode:    dtos.ErrorScanRemoved,
			MissingScans: []string{"dependency_scanning"},
		}, nil)
		require.NoError(t, service.Save(context.Background()))

		assert.Equal(t, 0, h.rules.approvals[rule.ID])
		assert.Equal(t, []string{unblockUsingExecutionPolicyEvent}, h.tracker.events)
	})

	t.Run("should not unblock when the execution policy does not run every missing scan", func(t *testing.T) {
		policy := newPolicyRead("deps")
		policy.PolicyTuning = datatypes.NewJSONType(dtos.PolicyTuning{UnblockRulesUsingExecutionPolicies: true})
		rule := ruleWithPolicy(2, policy)
		h := newEvaluationHarness(rule)

		service := h.service(mergeRequest, staticEnforcer{dtos.ScanTypeSAST})
		service.Evaluate(context.Background(), rule, RuleOutcome{
			ErrorCode:    dtos.ErrorScanRemoved,
			MissingScans: []string{"dependency_scanning"},
		}, nil)
		require.NoError(t, service.Save(context.Background()))

		// approvals were never reset, so nothing is written for them
		_, written := h.rules.approvals[rule.ID]
		assert.False(t, written)
		assert.Empty(t, h.tracker.events)
	})

	t.Run("should warn instead of block when a fail open rule is skipped", func(t *testing.T) {
		policy := newPolicyRead("deps")
		policy.FallbackBehavior = dtos.FallbackOpen
		rule := ruleWithPolicy(2, policy)
		h := newEvaluationHarness(rule)

		service := h.service(mergeRequest, nil)
		service.Skip(rule)
		require.NoError(t, service.Save(context.Background()))

		assert.Equal(t, 0, h.rules.approvals[rule.ID])
		assert.Equal(t, dtos.ViolationStatusWarn, h.violations.rows[policy.ID].Status)

		events := h.commentEvents(t)
		require.Len(t, events, 1)
		assert.True(t, events[0].Violated)
		assert.False(t, events[0].RequiresApproval)
	})

	t.Run("should not write anything without evaluated rules", func(t *testing.T) {
		h := newEvaluationHarness()
		require.NoError(t, h.service(mergeRequest, nil).Save(context.Background()))
		assert.Empty(t, h.broker.messages)
	})
}
