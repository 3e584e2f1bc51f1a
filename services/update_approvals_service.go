// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
)

// EvaluationFactory creates the per merge request evaluation objects.
type EvaluationFactory struct {
	approvalRuleRepository  shared.ApprovalRuleRepository
	violationRepository     shared.ScanResultPolicyViolationRepository
	vulnerabilityRepository shared.VulnerabilityRepository
	mergeRequestRepository  shared.MergeRequestRepository
	finder                  *FindingsFinder
	enforcer                scanEnforcer
	tracker                 shared.InternalEventTracker
	broker                  shared.PubSubBroker
}

func NewEvaluationFactory(
	approvalRuleRepository shared.ApprovalRuleRepository,
	violationRepository shared.ScanResultPolicyViolationRepository,
	vulnerabilityRepository shared.VulnerabilityRepository,
	mergeRequestRepository shared.MergeRequestRepository,
	finder *FindingsFinder,
	enforcer *PolicySyncService,
	tracker shared.InternalEventTracker,
	broker shared.PubSubBroker,
) *EvaluationFactory {
	f := &EvaluationFactory{
		approvalRuleRepository:  approvalRuleRepository,
		violationRepository:     violationRepository,
		vulnerabilityRepository: vulnerabilityRepository,
		mergeRequestRepository:  mergeRequestRepository,
		finder:                  finder,
		tracker:                 tracker,
		broker:                  broker,
	}
	if enforcer != nil {
		f.enforcer = enforcer
	}
	return f
}

func (f *EvaluationFactory) Evaluation(mergeRequest models.MergeRequest, project models.Project, reportType dtos.ApprovalReportType) *PolicyRuleEvaluationService {
	return NewPolicyRuleEvaluationService(mergeRequest, project, reportType, f.approvalRuleRepository, f.violationRepository, f.enforcer, f.tracker, f.broker)
}

func (f *EvaluationFactory) Context(mergeRequest models.MergeRequest, project models.Project, pipelineIDs, targetPipelineIDs []uuid.UUID) *EvaluationContext {
	return NewEvaluationContext(mergeRequest, project, pipelineIDs, targetPipelineIDs, f.finder, f.vulnerabilityRepository, f.mergeRequestRepository)
}

// UpdateApprovalsService evaluates the scan_finding rules of a merge request
// against the findings of a pipeline.
type UpdateApprovalsService struct {
	approvalRuleRepository shared.ApprovalRuleRepository
	finder                 *FindingsFinder
	resolver               *TargetPipelineResolver
	factory                *EvaluationFactory
}

func NewUpdateApprovalsService(approvalRuleRepository shared.ApprovalRuleRepository, finder *FindingsFinder, resolver *TargetPipelineResolver, factory *EvaluationFactory) *UpdateApprovalsService {
	return &UpdateApprovalsService{
		approvalRuleRepository: approvalRuleRepository,
		finder:                 finder,
		resolver:               resolver,
		factory:                factory,
	}
}

func evaluationLogger(mergeRequest models.MergeRequest, project models.Project) *slog.Logger {
	return slog.With(
		"workflow", "approval_policy_evaluation",
		"event", "update_approvals",
		"merge_request_id", mergeRequest.ID,
		"merge_request_iid", mergeRequest.IID,
		"project_path", project.FullPath,
	)
}

func (s *UpdateApprovalsService) Execute(ctx context.Context, mergeRequest models.MergeRequest, project models.Project, pipeline models.Pipeline) error {
	ctx, span := monitoring.Tracer().Start(ctx, "UpdateApprovalsService.Execute")
	defer span.End()
	start := time.Now()
	defer func() {
		monitoring.ApprovalEvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	if mergeRequest.IsMerged() {
		return nil
	}

	rules, err := s.approvalRuleRepository.FindMergeRequestRules(ctx, mergeRequest.ID, dtos.ReportTypeScanFinding)
	if err != nil {
		return err
	}
	// previously existing states are handled without looking at the pipeline
	rules = utils.Filter(rules, func(rule models.ApprovalMergeRequestRule) bool {
		return NewPolicyRule(rule).Kind == RuleKindScanFinding
	})
	if len(rules) == 0 {
		return nil
	}

	logger := evaluationLogger(mergeRequest, project)
	evaluation := s.factory.Evaluation(mergeRequest, project, dtos.ReportTypeScanFinding)

	if pipeline.Status == models.PipelineStatusFailed || pipeline.Status == models.PipelineStatusCanceled {
		for _, rule := range rules {
			evaluation.Skip(rule)
		}
		return evaluation.Save(ctx)
	}

	pipelineIDs, err := s.finder.PipelineIDs(ctx, pipeline)
	if err != nil {
		return err
	}
	canStore, err := s.finder.CanStoreSecurityReports(ctx, pipelineIDs)
	if err != nil {
		return err
	}
	if !canStore {
		logger.Info("No security reports found for the pipeline", "message", "No security reports found for the pipeline", "pipeline_ids", pipelineIDs)
		return nil
	}

	target, err := s.resolver.Resolve(ctx, mergeRequest, &pipeline)
	if err != nil {
		return err
	}
	var targetPipelineIDs []uuid.UUID
	if targetPipeline, err := target.Take(); err == nil {
		if targetPipelineIDs, err = s.finder.PipelineIDs(ctx, targetPipeline); err != nil {
			return err
		}
	}

	logger.Info("Evaluating scan_finding rules from approval policies",
		"message", "Evaluating scan_finding rules from approval policies",
		"pipeline_ids", pipelineIDs,
		"target_pipeline_ids", targetPipelineIDs,
	)

	evaluationContext := s.factory.Context(mergeRequest, project, pipelineIDs, targetPipelineIDs)
	for _, rule := range rules {
		outcome, err := NewPolicyRule(rule).Evaluate(ctx, evaluationContext)
		if err != nil {
			return err
		}
		switch {
		case outcome.ErrorCode == dtos.ErrorScanRemoved:
			logger.Info("Updating MR approval rule",
				"message", "Updating MR approval rule",
				"approval_rule_id", rule.ID,
				"approval_rule_name", rule.Name,
				"reason", "Scanner removed by MR",
				"missing_scans", outcome.MissingScans,
			)
		case outcome.Input.Applicable && outcome.Input.ViolationCount > outcome.Input.VulnerabilitiesAllowed:
			logger.Info("Updating MR approval rule",
				"message", "Updating MR approval rule",
				"approval_rule_id", rule.ID,
				"approval_rule_name", rule.Name,
				"reason", "scan_finding rule violated",
			)
		}
		evaluation.Evaluate(ctx, rule, outcome, evaluationContext.ViolationContext())
	}
	return evaluation.Save(ctx)
}
