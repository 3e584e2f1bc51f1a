// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/policy"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"gorm.io/datatypes"
)

// policyRef is read from the security policy repositories. Policies only
// take effect once they reached the default branch.
const policyRef = "HEAD"

type policyReader interface {
	Read(ctx context.Context, repository, ref string) (policy.Blob, error)
}

// PolicySyncService turns the policy file of a project into policy snapshots
// and approval rules of the project and its open merge requests.
type PolicySyncService struct {
	reader                 policyReader
	policyReadRepository   shared.ScanResultPolicyReadRepository
	approvalRuleRepository shared.ApprovalRuleRepository
	mergeRequestRepository shared.MergeRequestRepository
	licenseService         shared.LicenseService
}

func NewPolicySyncService(reader *policy.GitReader, policyReadRepository shared.ScanResultPolicyReadRepository, approvalRuleRepository shared.ApprovalRuleRepository, mergeRequestRepository shared.MergeRequestRepository, licenseService shared.LicenseService) *PolicySyncService {
	return &PolicySyncService{
		reader:                 reader,
		policyReadRepository:   policyReadRepository,
		approvalRuleRepository: approvalRuleRepository,
		mergeRequestRepository: mergeRequestRepository,
		licenseService:         licenseService,
	}
}

func (s *PolicySyncService) document(ctx context.Context, project models.Project) (policy.Blob, error) {
	if project.SecurityPolicyRepository == "" {
		return policy.Blob{}, policy.ErrPolicyNotFound
	}
	return s.reader.Read(ctx, project.SecurityPolicyRepository, policyRef)
}

// EnforcedScanTypes returns the scans the scan execution policies of the
// project run on branch.
func (s *PolicySyncService) EnforcedScanTypes(ctx context.Context, project models.Project, branch string) ([]dtos.ScanType, error) {
	blob, err := s.document(ctx, project)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return blob.Document.EnforcedScanTypes(projectBranches(project), branch), nil
}

func projectBranches(project models.Project) policy.ProjectBranches {
	return policy.ProjectBranches{
		FullPath:          project.FullPath,
		DefaultBranch:     project.DefaultBranch,
		ProtectedBranches: project.ProtectedBranches,
	}
}

func policyRead(project models.Project, sha string, policyIndex, ruleIndex int, p policy.ApprovalPolicy, rule policy.ApprovalRule) models.ScanResultPolicyRead {
	read := models.ScanResultPolicyRead{
		ProjectID:        project.ID,
		PolicyIndex:      policyIndex,
		RuleIndex:        ruleIndex,
		PolicyName:       p.Name,
		FallbackBehavior: p.Fallback(),
		Commits:          rule.Commits,
		LicenseStates:    rule.LicenseStates,
		BranchType:       rule.BranchType,
		Branches:         rule.Branches,
		BranchExceptions: datatypes.NewJSONSlice(rule.BranchExceptions),
		WarnMode:         p.EnforcementType == policy.EnforcementWarn,
		ConfigurationSHA: sha,
	}
	licenses := dtos.LicensePolicy{LicenseTypes: rule.LicenseTypes}
	if rule.MatchOnInclusionLicense != nil {
		licenses.MatchOnInclusion = *rule.MatchOnInclusionLicense
	}
	read.Licenses = datatypes.NewJSONType(licenses)
	var attributes dtos.VulnerabilityAttributes
	if rule.VulnerabilityAttributes != nil {
		attributes = *rule.VulnerabilityAttributes
	}
	read.VulnerabilityAttributes = datatypes.NewJSONType(attributes)
	var tuning dtos.PolicyTuning
	if p.PolicyTuning != nil {
		tuning = *p.PolicyTuning
	}
	read.PolicyTuning = datatypes.NewJSONType(tuning)
	return read
}

func projectRule(read models.ScanResultPolicyRead, p policy.ApprovalPolicy, rule policy.ApprovalRule) models.ApprovalProjectRule {
	return models.ApprovalProjectRule{
		ProjectID: read.ProjectID,
		ApprovalRuleAttributes: models.ApprovalRuleAttributes{
			Name:                   fmt.Sprintf("%s %d", p.Name, read.RuleIndex),
			ReportType:             rule.Type.ReportType(),
			Scanners:               rule.Scanners,
			SeverityLevels:         rule.SeverityLevels,
			VulnerabilityStates:    rule.VulnerabilityStates,
			VulnerabilitiesAllowed: rule.VulnerabilitiesAllowed,
			ApprovalsRequired:      p.ApprovalsRequired(),
		},
		ScanResultPolicyReadID: &read.ID,
	}
}

// SyncProject replaces the snapshots of the project with the rules of its
// current policy file and copies the project rules into every open merge
// request. A project without policy file loses all snapshots.
func (s *PolicySyncService) SyncProject(ctx context.Context, project models.Project) error {
	if !s.licenseService.FeatureAvailable(FeatureSecurityPolicies) {
		return nil
	}

	blob, err := s.document(ctx, project)
	if err != nil && !errors.Is(err, policy.ErrPolicyNotFound) {
		return err
	}
	mergeRequests, err := s.mergeRequestRepository.FindOpenByProject(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("could not list open merge requests: %w", err)
	}
	mergeRequestIDs := utils.Map(mergeRequests, func(m models.MergeRequest) uuid.UUID { return m.ID })

	return s.approvalRuleRepository.Transaction(func(tx shared.DB) error {
		keep := []uuid.UUID{}
		for policyIndex, p := range blob.Document.EnabledApprovalPolicies() {
			for ruleIndex, rule := range p.Rules {
				read := policyRead(project, blob.SHA, policyIndex, ruleIndex, p, rule)
				if err := s.policyReadRepository.Upsert(ctx, tx, &read); err != nil {
					return fmt.Errorf("could not store policy %q: %w", p.Name, err)
				}
				projectRule := projectRule(read, p, rule)
				if err := s.approvalRuleRepository.UpsertProjectRule(ctx, tx, &projectRule); err != nil {
					return fmt.Errorf("could not store approval rule of policy %q: %w", p.Name, err)
				}
				keep = append(keep, read.ID)
			}
		}
		if err := s.policyReadRepository.DeleteStale(ctx, tx, project.ID, keep); err != nil {
			return err
		}
		if err := s.approvalRuleRepository.SyncMergeRequestRules(ctx, tx, project.ID, mergeRequestIDs); err != nil {
			return fmt.Errorf("could not copy approval rules into merge requests: %w", err)
		}
		slog.Debug("synced security policies", "project_path", project.FullPath, "rules", len(keep), "merge_requests", len(mergeRequestIDs), "sha", blob.SHA)
		return nil
	})
}
