// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"gorm.io/gorm"
)

const controlPolicyCacheSize = 256

// ComplianceService maintains the per project status rows of compliance
// controls and requirements.
type ComplianceService struct {
	frameworkRepository         shared.ComplianceFrameworkRepository
	requirementRepository       shared.ComplianceRequirementRepository
	controlRepository           shared.ComplianceControlRepository
	controlStatusRepository     shared.ProjectControlStatusRepository
	requirementStatusRepository shared.ProjectRequirementStatusRepository
	namespaceRepository         shared.NamespaceRepository
	projectRepository           shared.ProjectRepository
	pipelineRepository          shared.PipelineRepository
	approvalRuleRepository      shared.ApprovalRuleRepository
	finder                      *FindingsFinder
	licenseService              shared.LicenseService

	saas     bool
	policies *lru.Cache[string, *ControlPolicy]
}

func NewComplianceService(
	frameworkRepository shared.ComplianceFrameworkRepository,
	requirementRepository shared.ComplianceRequirementRepository,
	controlRepository shared.ComplianceControlRepository,
	controlStatusRepository shared.ProjectControlStatusRepository,
	requirementStatusRepository shared.ProjectRequirementStatusRepository,
	namespaceRepository shared.NamespaceRepository,
	projectRepository shared.ProjectRepository,
	pipelineRepository shared.PipelineRepository,
	approvalRuleRepository shared.ApprovalRuleRepository,
	finder *FindingsFinder,
	licenseService shared.LicenseService,
) *ComplianceService {
	policies, err := lru.New[string, *ControlPolicy](controlPolicyCacheSize)
	if err != nil {
		panic(err)
	}
	return &ComplianceService{
		frameworkRepository:         frameworkRepository,
		requirementRepository:       requirementRepository,
		controlRepository:           controlRepository,
		controlStatusRepository:     controlStatusRepository,
		requirementStatusRepository: requirementStatusRepository,
		namespaceRepository:         namespaceRepository,
		projectRepository:           projectRepository,
		pipelineRepository:          pipelineRepository,
		approvalRuleRepository:      approvalRuleRepository,
		finder:                      finder,
		licenseService:              licenseService,
		saas:                        utils.GetEnvOrDefault("GITLAB_SAAS", "false") == "true",
		policies:                    policies,
	}
}

func (s *ComplianceService) CreateFramework(ctx context.Context, framework *models.ComplianceFramework) error {
	namespace, err := s.namespaceRepository.Read(framework.NamespaceID)
	if err != nil {
		return fmt.Errorf("could not read namespace: %w", err)
	}
	count, err := s.frameworkRepository.CountByNamespace(ctx, framework.NamespaceID, framework.Name)
	if err != nil {
		return err
	}
	if err := ValidateFramework(*framework, namespace, count).Err(); err != nil {
		return err
	}
	return s.frameworkRepository.Create(nil, framework)
}

func (s *ComplianceService) CreateRequirement(ctx context.Context, requirement *models.ComplianceRequirement) error {
	framework, err := s.frameworkRepository.Read(requirement.FrameworkID)
	if err != nil {
		return fmt.Errorf("could not read compliance framework: %w", err)
	}
	if requirement.NamespaceID == uuid.Nil {
		requirement.NamespaceID = framework.NamespaceID
	}
	count, err := s.requirementRepository.CountByFramework(ctx, framework.ID)
	if err != nil {
		return err
	}
	if err := ValidateRequirement(*requirement, framework, count).Err(); err != nil {
		return err
	}
	return s.requirementRepository.Create(nil, requirement)
}

func (s *ComplianceService) CreateControl(ctx context.Context, control *models.ComplianceRequirementsControl) error {
	requirement, err := s.requirementRepository.Read(control.RequirementID)
	if err != nil {
		return fmt.Errorf("could not read compliance requirement: %w", err)
	}
	if control.NamespaceID == uuid.Nil {
		control.NamespaceID = requirement.NamespaceID
	}
	siblings, err := s.controlRepository.FindByRequirement(ctx, requirement.ID)
	if err != nil {
		return err
	}
	if err := ValidateControl(*control, requirement, siblings, s.saas).Err(); err != nil {
		return err
	}
	return s.controlRepository.Create(nil, control)
}

// ApplyFramework applies the framework to the project.
func (s *ComplianceService) ApplyFramework(ctx context.Context, project models.Project, frameworkID uuid.UUID) error {
	framework, err := s.frameworkRepository.Read(frameworkID)
	if err != nil {
		return fmt.Errorf("could not read compliance framework: %w", err)
	}
	count, err := s.frameworkRepository.CountProjectSettings(ctx, project.ID)
	if err != nil {
		return err
	}
	if err := ValidateFrameworkSetting(project, framework, count).Err(); err != nil {
		return err
	}
	return s.frameworkRepository.CreateProjectSetting(ctx, &models.ComplianceFrameworkProjectSetting{
		ProjectID:   project.ID,
		FrameworkID: framework.ID,
	})
}

// requirementStatus finds or creates the requirement status after checking
// its invariants.
func (s *ComplianceService) requirementStatus(ctx context.Context, project models.Project, requirement models.ComplianceRequirement, applied []uuid.UUID) (models.ProjectRequirementComplianceStatus, error) {
	status := models.ProjectRequirementComplianceStatus{
		ProjectID:     project.ID,
		NamespaceID:   requirement.NamespaceID,
		RequirementID: requirement.ID,
		FrameworkID:   requirement.FrameworkID,
	}
	if err := ValidateRequirementStatus(status, project, requirement, applied).Err(); err != nil {
		return status, err
	}
	return s.requirementStatusRepository.FindOrCreate(ctx, status)
}

// upsertControlStatus writes the status of a control. A nil status only
// makes sure the row exists.
func (s *ComplianceService) upsertControlStatus(ctx context.Context, project models.Project, control models.ComplianceRequirementsControl, requirement models.ComplianceRequirement, requirementStatus models.ProjectRequirementComplianceStatus, applied []uuid.UUID, status *dtos.ComplianceStatus) (models.ProjectControlComplianceStatus, error) {
	candidate := models.ProjectControlComplianceStatus{
		ProjectID:           project.ID,
		NamespaceID:         requirement.NamespaceID,
		ControlID:           control.ID,
		RequirementID:       requirement.ID,
		RequirementStatusID: &requirementStatus.ID,
		Status:              dtos.ComplianceStatusPending,
	}
	if err := ValidateControlStatus(candidate, project, control, requirement, applied, &requirementStatus).Err(); err != nil {
		return candidate, err
	}
	row, err := s.controlStatusRepository.CreateOrFind(ctx, candidate)
	if err != nil {
		return row, err
	}
	if status != nil && row.Status != *status {
		if err := s.controlStatusRepository.UpdateStatus(ctx, row.ID, *status); err != nil {
			return row, err
		}
		row.Status = *status
	}
	monitoring.ComplianceControlStatuses.WithLabelValues(row.Status.String()).Inc()
	return row, nil
}

// RecalculateCounts aggregates the control statuses of the requirement into
// its requirement status.
func (s *ComplianceService) RecalculateCounts(ctx context.Context, requirementStatus models.ProjectRequirementComplianceStatus) error {
	statuses, err := s.controlStatusRepository.FindByProjectAndRequirement(ctx, requirementStatus.ProjectID, requirementStatus.RequirementID)
	if err != nil {
		return err
	}
	var pass, fail, pending int
	for _, st := range statuses {
		switch st.Status {
		case dtos.ComplianceStatusPass:
			pass++
		case dtos.ComplianceStatusFail:
			fail++
		default:
			pending++
		}
	}
	return s.requirementStatusRepository.UpdateCounts(ctx, requirementStatus.ID, pass, fail, pending)
}

// ReportControlStatus stores the status an external control reported for a project.
func (s *ComplianceService) ReportControlStatus(ctx context.Context, report dtos.ControlStatusReport) (models.ProjectControlComplianceStatus, error) {
	if err := shared.V.Struct(report); err != nil {
		return models.ProjectControlComplianceStatus{}, err
	}
	status, err := ParseComplianceStatus(report.Status)
	if err != nil {
		return models.ProjectControlComplianceStatus{}, err
	}
	control, err := s.controlRepository.Read(report.ControlID)
	if err != nil {
		return models.ProjectControlComplianceStatus{}, fmt.Errorf("could not read compliance control: %w", err)
	}
	if !control.IsExternal() {
		var errs shared.ValidationErrors
		errs.Add("compliance_requirements_control", "must be an external control.")
		return models.ProjectControlComplianceStatus{}, errs
	}
	project, err := s.projectRepository.Read(report.ProjectID)
	if err != nil {
		return models.ProjectControlComplianceStatus{}, fmt.Errorf("could not read project: %w", err)
	}
	requirement, err := s.requirementRepository.Read(control.RequirementID)
	if err != nil {
		return models.ProjectControlComplianceStatus{}, fmt.Errorf("could not read compliance requirement: %w", err)
	}
	applied, err := s.frameworkRepository.AppliedFrameworkIDs(ctx, project.ID)
	if err != nil {
		return models.ProjectControlComplianceStatus{}, err
	}

	requirementStatus, err := s.requirementStatus(ctx, project, requirement, applied)
	if err != nil {
		return models.ProjectControlComplianceStatus{}, err
	}
	row, err := s.upsertControlStatus(ctx, project, control, requirement, requirementStatus, applied, &status)
	if err != nil {
		return row, err
	}
	return row, s.RecalculateCounts(ctx, requirementStatus)
}

func (s *ComplianceService) controlPolicy(ctx context.Context, expression dtos.ControlExpression) (*ControlPolicy, error) {
	key := fmt.Sprintf("%s|%s|%v", expression.Operator, expression.Field, expression.Value)
	if policy, ok := s.policies.Get(key); ok {
		return policy, nil
	}
	policy, err := NewControlPolicy(ctx, expression)
	if err != nil {
		return nil, err
	}
	s.policies.Add(key, policy)
	return policy, nil
}

// ProjectFacts collects the values internal control expressions are evaluated against.
func (s *ComplianceService) ProjectFacts(ctx context.Context, project models.Project) (map[string]any, error) {
	rules, err := s.approvalRuleRepository.FindProjectRules(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	minimumApprovals := 0
	for _, rule := range rules {
		minimumApprovals = max(minimumApprovals, rule.ApprovalsRequired)
	}

	facts := map[string]any{
		"minimum_approvals_required":                minimumApprovals,
		"default_branch_protected":                  utils.Contains(project.ProtectedBranches, project.DefaultBranch),
		"auth_sso_enabled":                          project.AuthSSOEnabled,
		"project_visibility":                        project.Visibility,
		"merge_request_prevent_author_approval":     project.PreventAuthorApproval,
		"merge_request_prevent_committers_approval": project.PreventCommittersApproval,
		"reset_approvals_on_push":                   project.ResetApprovalsOnPush,
	}
	for _, scanType := range dtos.AllScanTypes {
		facts["scanner_"+string(scanType)+"_running"] = false
	}

	pipeline, err := s.pipelineRepository.LatestForRef(ctx, project.ID, project.DefaultBranch)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return facts, nil
		}
		return nil, err
	}
	pipelineIDs, err := s.finder.PipelineIDs(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	scanTypes, err := s.finder.ScanTypes(ctx, pipelineIDs)
	if err != nil {
		return nil, err
	}
	for _, scanType := range scanTypes {
		facts["scanner_"+string(scanType)+"_running"] = true
	}
	return facts, nil
}

// EvaluateProject evaluates the internal controls of every framework applied
// to the project. External controls keep their reported status.
func (s *ComplianceService) EvaluateProject(ctx context.Context, project models.Project) error {
	if !s.licenseService.FeatureAvailable(FeatureCompliance) {
		return nil
	}
	ctx, span := monitoring.Tracer().Start(ctx, "ComplianceService.EvaluateProject")
	defer span.End()

	applied, err := s.frameworkRepository.AppliedFrameworkIDs(ctx, project.ID)
	if err != nil {
		return err
	}
	requirements, err := s.requirementRepository.FindByFrameworks(ctx, applied)
	if err != nil {
		return err
	}
	if len(requirements) == 0 {
		return nil
	}
	controls, err := s.controlRepository.FindByRequirements(ctx, utils.Map(requirements, func(r models.ComplianceRequirement) uuid.UUID { return r.ID }))
	if err != nil {
		return err
	}
	facts, err := s.ProjectFacts(ctx, project)
	if err != nil {
		return err
	}

	for _, requirement := range requirements {
		requirementStatus, err := s.requirementStatus(ctx, project, requirement, applied)
		if err != nil {
			return err
		}
		for _, control := range controls {
			if control.RequirementID != requirement.ID {
				continue
			}
			status, err := s.evaluateControl(ctx, control, facts)
			if err != nil {
				slog.Warn("could not evaluate compliance control", "control_id", control.ID, "project_path", project.FullPath, "err", err)
				continue
			}
			if _, err := s.upsertControlStatus(ctx, project, control, requirement, requirementStatus, applied, status); err != nil {
				return err
			}
		}
		if err := s.RecalculateCounts(ctx, requirementStatus); err != nil {
			return err
		}
	}
	return nil
}

// evaluateControl returns nil for external controls.
func (s *ComplianceService) evaluateControl(ctx context.Context, control models.ComplianceRequirementsControl, facts map[string]any) (*dtos.ComplianceStatus, error) {
	if control.IsExternal() {
		return nil, nil
	}
	if control.Expression == nil {
		return nil, errors.New("internal control without expression")
	}
	expression, messages, err := ParseControlExpression(*control.Expression)
	if err != nil {
		return nil, err
	}
	if len(messages) > 0 {
		return nil, fmt.Errorf("invalid expression: %v", messages)
	}
	policy, err := s.controlPolicy(ctx, expression)
	if err != nil {
		return nil, err
	}
	status, err := policy.Eval(ctx, facts)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// EvaluateAll evaluates every project of the root groups. It keeps going
// when a single project fails.
func (s *ComplianceService) EvaluateAll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		monitoring.ComplianceEvaluationDuration.Observe(time.Since(start).Minutes())
	}()
	projects, err := s.projectRepository.All()
	if err != nil {
		return err
	}
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.EvaluateProject(ctx, project); err != nil {
			slog.Error("could not evaluate compliance of project", "project_path", project.FullPath, "err", err)
		}
	}
	return nil
}

// CoverageStatistics puts every project with requirement statuses into one
// bucket: failed when any control fails, passed when nothing fails or is
// pending, pending otherwise.
func (s *ComplianceService) CoverageStatistics(ctx context.Context, projectIDs []uuid.UUID) (dtos.CoverageStatistics, error) {
	var stats dtos.CoverageStatistics
	if len(projectIDs) == 0 {
		return stats, nil
	}
	statuses, err := s.requirementStatusRepository.List(ctx, dtos.RequirementStatusQuery{ProjectIDs: projectIDs})
	if err != nil {
		return stats, err
	}
	type rollup struct{ fail, pending int }
	byProject := map[uuid.UUID]*rollup{}
	for _, st := range statuses {
		r, ok := byProject[st.ProjectID]
		if !ok {
			r = &rollup{}
			byProject[st.ProjectID] = r
		}
		r.fail += st.FailCount
		r.pending += st.PendingCount
	}
	for _, r := range byProject {
		switch {
		case r.fail > 0:
			stats.Failed++
		case r.pending > 0:
			stats.Pending++
		default:
			stats.Passed++
		}
	}
	return stats, nil
}

func (s *ComplianceService) ControlCoverageStatistics(ctx context.Context, projectIDs []uuid.UUID) (dtos.ControlCoverageStatistics, error) {
	counts, err := s.controlStatusRepository.CountByStatus(ctx, projectIDs)
	if err != nil {
		return dtos.ControlCoverageStatistics{}, err
	}
	return dtos.ControlCoverageStatistics{
		Passed:  counts[dtos.ComplianceStatusPass],
		Failed:  counts[dtos.ComplianceStatusFail],
		Pending: counts[dtos.ComplianceStatusPending],
	}, nil
}
