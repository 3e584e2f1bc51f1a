// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
)

const DefaultCommentLockTimeout = 10 * time.Second

func commentLeaseKey(mergeRequestID uuid.UUID) string {
	return "policy_violation_comment:" + mergeRequestID.String()
}

// GeneratePolicyCommentService keeps the bot comment of a merge request in
// sync with its violations. Only one generation per merge request runs at a time.
type GeneratePolicyCommentService struct {
	mergeRequestRepository  shared.MergeRequestRepository
	projectRepository       shared.ProjectRepository
	approvalRuleRepository  shared.ApprovalRuleRepository
	violationRepository     shared.ScanResultPolicyViolationRepository
	vulnerabilityRepository shared.VulnerabilityRepository
	finder                  *FindingsFinder
	store                   shared.BotCommentStore
	lease                   shared.Lease
	lockTimeout             time.Duration
}

func NewGeneratePolicyCommentService(
	mergeRequestRepository shared.MergeRequestRepository,
	projectRepository shared.ProjectRepository,
	approvalRuleRepository shared.ApprovalRuleRepository,
	violationRepository shared.ScanResultPolicyViolationRepository,
	vulnerabilityRepository shared.VulnerabilityRepository,
	finder *FindingsFinder,
	store shared.BotCommentStore,
	lease shared.Lease,
) *GeneratePolicyCommentService {
	lockTimeout := DefaultCommentLockTimeout
	if d, err := time.ParseDuration(utils.GetEnvOrDefault("COMMENT_LOCK_TIMEOUT", "")); err == nil && d > 0 {
		lockTimeout = d
	}
	return &GeneratePolicyCommentService{
		mergeRequestRepository:  mergeRequestRepository,
		projectRepository:       projectRepository,
		approvalRuleRepository:  approvalRuleRepository,
		violationRepository:     violationRepository,
		vulnerabilityRepository: vulnerabilityRepository,
		finder:                  finder,
		store:                   store,
		lease:                   lease,
		lockTimeout:             lockTimeout,
	}
}

func (s *GeneratePolicyCommentService) Execute(ctx context.Context, event dtos.GenerateCommentEvent) error {
	mergeRequest, err := s.mergeRequestRepository.Read(event.MergeRequestID)
	if err != nil {
		return fmt.Errorf("could not read merge request: %w", err)
	}
	project := mergeRequest.Project
	if project.ID == uuid.Nil {
		if project, err = s.projectRepository.Read(mergeRequest.ProjectID); err != nil {
			return fmt.Errorf("could not read project: %w", err)
		}
	}

	release, err := s.lease.Obtain(ctx, commentLeaseKey(mergeRequest.ID), s.lockTimeout)
	if err != nil {
		if errors.Is(err, shared.ErrLockTimeout) {
			monitoring.CommentsGenerated.WithLabelValues("lock_timeout").Inc()
		}
		return err
	}
	defer release()

	existing, err := s.store.FindBotComment(ctx, project, mergeRequest)
	if err != nil {
		return fmt.Errorf("could not find bot comment: %w", err)
	}

	comment := NewPolicyViolationComment(existing)
	if event.Violated {
		comment.AddReportType(event.ReportType, event.RequiresApproval)
	} else {
		comment.RemoveReportType(event.ReportType)
	}

	if existing == nil && len(comment.Reports()) == 0 {
		monitoring.CommentsGenerated.WithLabelValues("skipped").Inc()
		return nil
	}

	details, err := s.Details(ctx, mergeRequest, project)
	if err != nil {
		return err
	}
	body, err := comment.Body(details)
	if err != nil {
		return err
	}

	switch {
	case existing == nil:
		if err := s.store.CreateComment(ctx, project, mergeRequest, body); err != nil {
			return fmt.Errorf("could not create bot comment: %w", err)
		}
		monitoring.CommentsGenerated.WithLabelValues("created").Inc()
	case existing.Body == body:
		monitoring.CommentsGenerated.WithLabelValues("skipped").Inc()
	default:
		if err := s.store.UpdateComment(ctx, project, mergeRequest, existing.ID, body); err != nil {
			return fmt.Errorf("could not update bot comment: %w", err)
		}
		monitoring.CommentsGenerated.WithLabelValues("updated").Inc()
	}
	slog.Debug("generated policy violation comment", "merge_request_id", mergeRequest.ID, "reports", comment.Reports())
	return nil
}

// Details collects what the comment shows from the violations of the merge request.
func (s *GeneratePolicyCommentService) Details(ctx context.Context, mergeRequest models.MergeRequest, project models.Project) (CommentDetails, error) {
	details := CommentDetails{
		ProjectURL:   project.WebURL,
		SourceBranch: mergeRequest.SourceBranch,
		TargetBranch: mergeRequest.TargetBranch,
	}

	violations, err := s.violationRepository.FindByMergeRequest(ctx, mergeRequest.ID)
	if err != nil {
		return details, err
	}
	rules, err := s.approvalRuleRepository.FindMergeRequestRules(ctx, mergeRequest.ID)
	if err != nil {
		return details, err
	}

	byPolicy := make(map[uuid.UUID]models.ScanResultPolicyViolation, len(violations))
	for _, v := range violations {
		byPolicy[v.ScanResultPolicyReadID] = v
	}
	reportTypes := make(map[uuid.UUID]dtos.ApprovalReportType)

	for _, rule := range rules {
		if rule.ScanResultPolicyReadID == nil {
			continue
		}
		reportTypes[*rule.ScanResultPolicyReadID] = rule.ReportType
		v, ok := byPolicy[*rule.ScanResultPolicyReadID]
		if !ok {
			continue
		}
		if v.Warn() {
			if v.ScanResultPolicyRead.WarnMode {
				details.WarnModePolicies = append(details.WarnModePolicies, v.ScanResultPolicyRead.PolicyName)
			} else {
				details.FailOpenPolicies = append(details.FailOpenPolicies, rule.Name)
			}
			continue
		}
		details.ViolatedPolicies = append(details.ViolatedPolicies, rule.Name)
		switch rule.ReportType {
		case dtos.ReportTypeLicenseScanning:
			details.LicensePolicies = append(details.LicensePolicies, rule.Name)
		case dtos.ReportTypeAnyMergeRequest:
			details.AnyMergeRequestPolicies = append(details.AnyMergeRequestPolicies, rule.Name)
		}
		if v.ViolationData.HasErrors() {
			details.HasErrors = true
		}
	}
	details.ViolatedPolicies = utils.SortedUniq(details.ViolatedPolicies)
	details.LicensePolicies = utils.SortedUniq(details.LicensePolicies)
	details.AnyMergeRequestPolicies = utils.SortedUniq(details.AnyMergeRequestPolicies)
	details.FailOpenPolicies = utils.SortedUniq(details.FailOpenPolicies)
	details.WarnModePolicies = utils.SortedUniq(details.WarnModePolicies)

	var newlyDetected, previouslyExisting []string
	var pipelineIDs []uuid.UUID
	licenses := map[string][]string{}
	comparison := map[dtos.ApprovalReportType]*ComparisonPipelines{}

	for _, v := range violations {
		data := v.ViolationData
		if data == nil {
			continue
		}
		details.Truncated = details.Truncated || data.Truncated
		for _, e := range data.Errors {
			if !slices.ContainsFunc(details.Errors, func(d ErrorDetails) bool { return d.Code == e.Error }) {
				details.Errors = append(details.Errors, ErrorDetailsFor(e))
			}
		}
		for _, violation := range data.Violations {
			if violation.UUIDs != nil {
				newlyDetected = append(newlyDetected, violation.UUIDs.NewlyDetected...)
				previouslyExisting = append(previouslyExisting, violation.UUIDs.PreviouslyExisting...)
			}
			if violation.Commits != nil {
				details.UnsignedCommits = append(details.UnsignedCommits, violation.Commits.SHAs...)
			}
			for license, dependencies := range violation.Licenses {
				licenses[license] = append(licenses[license], dependencies...)
			}
		}
		if data.Context != nil {
			pipelineIDs = append(pipelineIDs, data.Context.PipelineIDs...)
			reportType, ok := reportTypes[v.ScanResultPolicyReadID]
			if !ok {
				reportType = dtos.ReportTypeScanFinding
			}
			c, ok := comparison[reportType]
			if !ok {
				c = &ComparisonPipelines{ReportType: reportType}
				comparison[reportType] = c
			}
			c.PipelineIDs = utils.Uniq(append(c.PipelineIDs, data.Context.PipelineIDs...))
			c.TargetPipelineIDs = utils.Uniq(append(c.TargetPipelineIDs, data.Context.TargetPipelineIDs...))
		}
	}

	details.UnsignedCommits = utils.Uniq(details.UnsignedCommits)
	if len(details.UnsignedCommits) > dtos.MaxViolations {
		details.UnsignedCommits = details.UnsignedCommits[:dtos.MaxViolations]
		details.Truncated = true
	}
	for _, license := range utils.SortedUniq(mapKeys(licenses)) {
		details.Licenses = append(details.Licenses, LicenseDetails{License: license, Dependencies: utils.SortedUniq(licenses[license])})
	}
	for _, reportType := range dtos.AllApprovalReportTypes {
		if c, ok := comparison[reportType]; ok {
			details.ComparisonPipelines = append(details.ComparisonPipelines, *c)
		}
	}

	if details.NewlyDetected, err = s.findingDetails(ctx, project.ID, utils.Uniq(newlyDetected), utils.Uniq(pipelineIDs)); err != nil {
		return details, err
	}
	if details.PreviouslyExisting, err = s.findingDetails(ctx, project.ID, utils.Uniq(previouslyExisting), nil); err != nil {
		return details, err
	}
	return details, nil
}

// findingDetails prefers the findings of the pipelines and falls back to the
// vulnerability records of the project. Unknown uuids are not shown.
func (s *GeneratePolicyCommentService) findingDetails(ctx context.Context, projectID uuid.UUID, uuids []string, pipelineIDs []uuid.UUID) ([]dtos.FindingDetails, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	found := make(map[string]dtos.FindingDetails, len(uuids))
	if len(pipelineIDs) > 0 {
		findings, err := s.finder.Findings(ctx, pipelineIDs, dtos.FindingFilter{UUIDs: uuids})
		if err != nil {
			return nil, err
		}
		for _, f := range findings {
			found[f.UUID] = dtos.FindingDetails{UUID: f.UUID, Name: f.Name, Severity: f.Severity, ReportType: f.ReportType, Location: f.Location}
		}
	}
	missing := utils.Filter(uuids, func(id string) bool {
		_, ok := found[id]
		return !ok
	})
	if len(missing) > 0 {
		vulnerabilities, err := s.vulnerabilityRepository.FindByUUIDs(ctx, projectID, missing)
		if err != nil {
			return nil, err
		}
		for _, v := range vulnerabilities {
			found[v.UUID] = dtos.FindingDetails{UUID: v.UUID, Name: v.Title, Severity: v.Severity, ReportType: v.ReportType}
		}
	}

	details := make([]dtos.FindingDetails, 0, len(found))
	for _, id := range uuids {
		if d, ok := found[id]; ok {
			details = append(details, d)
		}
	}
	return details, nil
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
