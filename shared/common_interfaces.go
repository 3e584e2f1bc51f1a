// Copyright (C) 2025 l3montree GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"gorm.io/gorm/clause"
)

type LeaderElector interface {
	IsLeader() bool
}

type ConfigRepository interface {
	Save(tx DB, config *models.Config) error
	GetDB(tx DB) DB
}

type ConfigService interface {
	// retrieves the value for the given key and marshals it into v
	GetJSONConfig(key string, v any) error
	SetJSONConfig(key string, v any) error
}

// Lease is a named mutual exclusion shared by every instance.
type Lease interface {
	// Obtain waits at most wait for the lease. The returned function releases it.
	Obtain(ctx context.Context, key string, wait time.Duration) (func(), error)
}

type InternalEventTracker interface {
	// fire and forget, never blocks the caller
	TrackEvent(name string, payload map[string]any)
}

type NamespaceRepository interface {
	Read(id uuid.UUID) (models.Namespace, error)
	Create(tx DB, namespace *models.Namespace) error
	// Hierarchy returns the namespace and all of its descendants.
	Hierarchy(ctx context.Context, namespace models.Namespace) ([]models.Namespace, error)
	RootGroups(ctx context.Context) ([]models.Namespace, error)
}

type ProjectRepository interface {
	Read(id uuid.UUID) (models.Project, error)
	ReadByFullPath(ctx context.Context, fullPath string) (models.Project, error)
	FindByNamespaces(ctx context.Context, namespaceIDs []uuid.UUID) ([]models.Project, error)
	All() ([]models.Project, error)
}

type PipelineRepository interface {
	Read(id uuid.UUID) (models.Pipeline, error)
	// Related returns the other pipelines of the project with the same ref and sha.
	Related(ctx context.Context, pipeline models.Pipeline) ([]models.Pipeline, error)
	// CanStoreSecurityReports is true when one of the pipelines has a succeeded security scan.
	CanStoreSecurityReports(ctx context.Context, pipelineIDs []uuid.UUID) (bool, error)
	// LatestWithSecurityReports returns gorm.ErrRecordNotFound when no pipeline matches.
	LatestWithSecurityReports(ctx context.Context, projectID uuid.UUID, ref string, sha *string) (models.Pipeline, error)
	LatestForRef(ctx context.Context, projectID uuid.UUID, ref string) (models.Pipeline, error)
}

type FindingRepository interface {
	FindByPipelines(ctx context.Context, pipelineIDs []uuid.UUID, filter dtos.FindingFilter) ([]models.Finding, error)
	ScanTypes(ctx context.Context, pipelineIDs []uuid.UUID) ([]dtos.ScanType, error)
	Dependencies(ctx context.Context, pipelineIDs []uuid.UUID) ([]models.PipelineDependency, error)
}

type VulnerabilityRepository interface {
	FindByUUIDs(ctx context.Context, projectID uuid.UUID, uuids []string) ([]models.Vulnerability, error)
	// FindByStates returns at most limit vulnerabilities and the total count.
	FindByStates(ctx context.Context, projectID uuid.UUID, states []dtos.VulnerabilityState, severities []dtos.Severity, reportTypes []dtos.ScanType, limit int) ([]models.Vulnerability, int64, error)
}

type MergeRequestRepository interface {
	Read(id uuid.UUID) (models.MergeRequest, error)
	FindOpenForPipeline(ctx context.Context, pipeline models.Pipeline) ([]models.MergeRequest, error)
	FindOpenByProject(ctx context.Context, projectID uuid.UUID) ([]models.MergeRequest, error)
	FindOpenByTargetBranch(ctx context.Context, projectID uuid.UUID, targetBranch string) ([]models.MergeRequest, error)
	Commits(ctx context.Context, mergeRequestID uuid.UUID) ([]models.MergeRequestCommit, error)
}

type ApprovalRuleRepository interface {
	FindMergeRequestRules(ctx context.Context, mergeRequestID uuid.UUID, reportTypes ...dtos.ApprovalReportType) ([]models.ApprovalMergeRequestRule, error)
	UpdateApprovalsRequired(ctx context.Context, tx DB, ruleIDs []uuid.UUID, approvalsRequired int) error
	FindProjectRules(ctx context.Context, projectID uuid.UUID) ([]models.ApprovalProjectRule, error)
	UpsertProjectRule(ctx context.Context, tx DB, rule *models.ApprovalProjectRule) error
	SyncMergeRequestRules(ctx context.Context, tx DB, projectID uuid.UUID, mergeRequestIDs []uuid.UUID) error
	Transaction(fn func(tx DB) error) error
}

type ScanResultPolicyReadRepository interface {
	FindByProject(ctx context.Context, projectID uuid.UUID) ([]models.ScanResultPolicyRead, error)
	Upsert(ctx context.Context, tx DB, read *models.ScanResultPolicyRead) error
	DeleteStale(ctx context.Context, tx DB, projectID uuid.UUID, keep []uuid.UUID) error
}

type ScanResultPolicyViolationRepository interface {
	FindByMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]models.ScanResultPolicyViolation, error)
	Upsert(tx DB, violations *[]*models.ScanResultPolicyViolation, conflictingColumns []clause.Column, toUpdate []string) error
	DeleteByPolicies(ctx context.Context, tx DB, mergeRequestID uuid.UUID, policyReadIDs []uuid.UUID) (int64, error)
	Transaction(fn func(tx DB) error) error
}

type ComplianceFrameworkRepository interface {
	Read(id uuid.UUID) (models.ComplianceFramework, error)
	Create(tx DB, framework *models.ComplianceFramework) error
	CountByNamespace(ctx context.Context, namespaceID uuid.UUID, name string) (int64, error)
	AppliedFrameworkIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)
	CountProjectSettings(ctx context.Context, projectID uuid.UUID) (int64, error)
	CreateProjectSetting(ctx context.Context, setting *models.ComplianceFrameworkProjectSetting) error
}

type ComplianceRequirementRepository interface {
	Read(id uuid.UUID) (models.ComplianceRequirement, error)
	Create(tx DB, requirement *models.ComplianceRequirement) error
	CountByFramework(ctx context.Context, frameworkID uuid.UUID) (int64, error)
	FindByFrameworks(ctx context.Context, frameworkIDs []uuid.UUID) ([]models.ComplianceRequirement, error)
}

type ComplianceControlRepository interface {
	Read(id uuid.UUID) (models.ComplianceRequirementsControl, error)
	Create(tx DB, control *models.ComplianceRequirementsControl) error
	FindByRequirement(ctx context.Context, requirementID uuid.UUID) ([]models.ComplianceRequirementsControl, error)
	FindByRequirements(ctx context.Context, requirementIDs []uuid.UUID) ([]models.ComplianceRequirementsControl, error)
}

type ProjectControlStatusRepository interface {
	// CreateOrFind inserts the status or returns the row which won a concurrent insert.
	CreateOrFind(ctx context.Context, status models.ProjectControlComplianceStatus) (models.ProjectControlComplianceStatus, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status dtos.ComplianceStatus) error
	FindByProjectAndRequirement(ctx context.Context, projectID, requirementID uuid.UUID) ([]models.ProjectControlComplianceStatus, error)
	CountByStatus(ctx context.Context, projectIDs []uuid.UUID) (map[dtos.ComplianceStatus]int, error)
}

type ProjectRequirementStatusRepository interface {
	FindOrCreate(ctx context.Context, status models.ProjectRequirementComplianceStatus) (models.ProjectRequirementComplianceStatus, error)
	List(ctx context.Context, query dtos.RequirementStatusQuery) ([]models.ProjectRequirementComplianceStatus, error)
	UpdateCounts(ctx context.Context, id uuid.UUID, pass, fail, pending int) error
	DeleteAllProjectStatuses(ctx context.Context, projectID uuid.UUID) error
}

type StageRepository interface {
	FindByNamespace(ctx context.Context, namespaceID uuid.UUID) ([]models.ValueStreamStage, error)
	FindByNamespaces(ctx context.Context, namespaceIDs []uuid.UUID) ([]models.ValueStreamStage, error)
	Create(tx DB, stage *models.ValueStreamStage) error
}

type IssuableRepository interface {
	// Batch returns issuables ordered by (updated_at, id) after the cursor.
	Batch(ctx context.Context, model dtos.AnalyticsModel, projectIDs []uuid.UUID, cursor *dtos.LoaderCursor, limit int) ([]models.IssuableRecord, error)
	LabelEvents(ctx context.Context, model dtos.AnalyticsModel, issuableIDs []uuid.UUID, labelIDs []uuid.UUID) ([]models.ResourceLabelEvent, error)
	ExistingIDs(ctx context.Context, model dtos.AnalyticsModel, issuableIDs []uuid.UUID) ([]uuid.UUID, error)
}

type StageEventRepository interface {
	Upsert(ctx context.Context, model dtos.AnalyticsModel, events []models.StageEvent) error
	// Batch returns stage events of the hash ordered by issuable id after afterIssuableID.
	Batch(ctx context.Context, model dtos.AnalyticsModel, stageEventHashID int64, groupIDs []uuid.UUID, afterIssuableID *uuid.UUID, limit int) ([]models.StageEvent, error)
	Delete(ctx context.Context, model dtos.AnalyticsModel, stageEventHashID int64, issuableIDs []uuid.UUID) (int64, error)
}

// BotCommentStore reads and writes the single bot comment of a merge request
// on the forge the project lives on.
type BotCommentStore interface {
	FindBotComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest) (*dtos.BotComment, error)
	CreateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, body string) error
	UpdateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, commentID string, body string) error
}

type LicenseService interface {
	FeatureAvailable(feature string) bool
}

type MergeRequestPolicyService interface {
	SyncMergeRequest(ctx context.Context, mergeRequest models.MergeRequest, pipeline *models.Pipeline) error
	SyncPipeline(ctx context.Context, pipelineID uuid.UUID) error
}

type PolicyCommentService interface {
	Execute(ctx context.Context, event dtos.GenerateCommentEvent) error
}

type CycleAnalyticsDataLoader interface {
	Execute(ctx context.Context, params DataLoaderParams) (dtos.LoaderResult, error)
}

type DataLoaderParams struct {
	Namespace models.Namespace
	Model     dtos.AnalyticsModel
	// all stages of the namespace when empty
	Stages  []models.ValueStreamStage
	Context dtos.LoaderContext
	// zero values fall back to the defaults
	BatchLimit     int
	MaxUpsertCount int
	MaxRuntime     time.Duration
}

type CycleAnalyticsConsistencyChecker interface {
	Execute(ctx context.Context, namespace models.Namespace, loaderContext dtos.LoaderContext) (dtos.LoaderResult, error)
}

type ComplianceService interface {
	CoverageStatistics(ctx context.Context, projectIDs []uuid.UUID) (dtos.CoverageStatistics, error)
	ControlCoverageStatistics(ctx context.Context, projectIDs []uuid.UUID) (dtos.ControlCoverageStatistics, error)
	ReportControlStatus(ctx context.Context, report dtos.ControlStatusReport) (models.ProjectControlComplianceStatus, error)
	EvaluateProject(ctx context.Context, project models.Project) error
	EvaluateAll(ctx context.Context) error
}

type PolicySyncService interface {
	SyncProject(ctx context.Context, project models.Project) error
}
