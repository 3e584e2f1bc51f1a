// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"golang.org/x/sync/errgroup"
)

// parallel merge request evaluations of a single pipeline
const mergeRequestConcurrency = 4

// MergeRequestPolicyService runs every approval policy evaluation of a merge request.
type MergeRequestPolicyService struct {
	mergeRequestRepository shared.MergeRequestRepository
	pipelineRepository     shared.PipelineRepository
	projectRepository      shared.ProjectRepository
	approvalRuleRepository shared.ApprovalRuleRepository
	licenseService         shared.LicenseService

	updateApprovals *UpdateApprovalsService
	finder          *FindingsFinder
	resolver        *TargetPipelineResolver
	factory         *EvaluationFactory
}

func NewMergeRequestPolicyService(
	mergeRequestRepository shared.MergeRequestRepository,
	pipelineRepository shared.PipelineRepository,
	projectRepository shared.ProjectRepository,
	approvalRuleRepository shared.ApprovalRuleRepository,
	licenseService shared.LicenseService,
	updateApprovals *UpdateApprovalsService,
	finder *FindingsFinder,
	resolver *TargetPipelineResolver,
	factory *EvaluationFactory,
) *MergeRequestPolicyService {
	return &MergeRequestPolicyService{
		mergeRequestRepository: mergeRequestRepository,
		pipelineRepository:     pipelineRepository,
		projectRepository:      projectRepository,
		approvalRuleRepository: approvalRuleRepository,
		licenseService:         licenseService,
		updateApprovals:        updateApprovals,
		finder:                 finder,
		resolver:               resolver,
		factory:                factory,
	}
}

// SyncPipeline evaluates every open merge request the pipeline ran for.
func (s *MergeRequestPolicyService) SyncPipeline(ctx context.Context, pipelineID uuid.UUID) error {
	pipeline, err := s.pipelineRepository.Read(pipelineID)
	if err != nil {
		return fmt.Errorf("could not read pipeline: %w", err)
	}
	mergeRequests, err := s.mergeRequestRepository.FindOpenForPipeline(ctx, pipeline)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(mergeRequestConcurrency)
	for _, mergeRequest := range mergeRequests {
		group.Go(func() error {
			return s.SyncMergeRequest(ctx, mergeRequest, &pipeline)
		})
	}
	return group.Wait()
}

func (s *MergeRequestPolicyService) project(mergeRequest models.MergeRequest) (models.Project, error) {
	if mergeRequest.Project.ID != uuid.Nil {
		return mergeRequest.Project, nil
	}
	return s.projectRepository.Read(mergeRequest.ProjectID)
}

// SyncMergeRequest evaluates the approval rules of every report type. Without
// a pipeline the head pipeline of the merge request is used.
func (s *MergeRequestPolicyService) SyncMergeRequest(ctx context.Context, mergeRequest models.MergeRequest, pipeline *models.Pipeline) error {
	if !s.licenseService.FeatureAvailable(FeatureSecurityPolicies) || mergeRequest.IsMerged() {
		return nil
	}
	project, err := s.project(mergeRequest)
	if err != nil {
		return fmt.Errorf("could not read project: %w", err)
	}
	// merge requests opened after the last policy sync have no rules yet
	if err := s.approvalRuleRepository.SyncMergeRequestRules(ctx, nil, project.ID, []uuid.UUID{mergeRequest.ID}); err != nil {
		return fmt.Errorf("could not copy approval rules: %w", err)
	}

	if pipeline == nil && mergeRequest.HeadPipelineID != nil {
		head, err := s.pipelineRepository.Read(*mergeRequest.HeadPipelineID)
		if err != nil {
			return fmt.Errorf("could not read head pipeline: %w", err)
		}
		pipeline = &head
	}

	var pipelineIDs, targetPipelineIDs []uuid.UUID
	if pipeline != nil {
		if err := s.updateApprovals.Execute(ctx, mergeRequest, project, *pipeline); err != nil {
			return fmt.Errorf("could not update scan finding approvals: %w", err)
		}
		if pipelineIDs, err = s.finder.PipelineIDs(ctx, *pipeline); err != nil {
			return err
		}
		target, err := s.resolver.Resolve(ctx, mergeRequest, pipeline)
		if err != nil {
			return err
		}
		if targetPipeline, err := target.Take(); err == nil {
			if targetPipelineIDs, err = s.finder.PipelineIDs(ctx, targetPipeline); err != nil {
				return err
			}
		}
	}

	evaluationContext := s.factory.Context(mergeRequest, project, pipelineIDs, targetPipelineIDs)

	if err := s.evaluate(ctx, evaluationContext, dtos.ReportTypeLicenseScanning, func(rule PolicyRule) bool {
		return pipeline != nil
	}); err != nil {
		return fmt.Errorf("could not evaluate license scanning rules: %w", err)
	}
	if err := s.evaluate(ctx, evaluationContext, dtos.ReportTypeAnyMergeRequest, func(rule PolicyRule) bool {
		return true
	}); err != nil {
		return fmt.Errorf("could not evaluate any merge request rules: %w", err)
	}
	// a separate evaluation so it does not interfere with the pipeline based scan finding rules
	if err := s.evaluate(ctx, evaluationContext, dtos.ReportTypeScanFinding, func(rule PolicyRule) bool {
		return rule.Kind == RuleKindPreExistingStates
	}); err != nil {
		return fmt.Errorf("could not evaluate previously existing vulnerabilities: %w", err)
	}
	return nil
}

func (s *MergeRequestPolicyService) evaluate(ctx context.Context, evaluationContext *EvaluationContext, reportType dtos.ApprovalReportType, include func(rule PolicyRule) bool) error {
	rules, err := s.approvalRuleRepository.FindMergeRequestRules(ctx, evaluationContext.MergeRequest.ID, reportType)
	if err != nil {
		return err
	}
	policyRules := utils.Filter(utils.Map(rules, NewPolicyRule), include)
	if len(policyRules) == 0 {
		return nil
	}

	evaluation := s.factory.Evaluation(evaluationContext.MergeRequest, evaluationContext.Project, reportType)
	for _, rule := range policyRules {
		outcome, err := rule.Evaluate(ctx, evaluationContext)
		if err != nil {
			return err
		}
		evaluation.Evaluate(ctx, rule.Rule, outcome, evaluationContext.ViolationContext())
	}
	slog.Debug("evaluated approval rules", "report_type", reportType, "merge_request_id", evaluationContext.MergeRequest.ID, "rules", len(policyRules))
	return evaluation.Save(ctx)
}
