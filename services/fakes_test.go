package services

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"gorm.io/gorm/clause"
)

// fakeFindingRepository keeps the scan results per pipeline in memory.
type fakeFindingRepository struct {
	shared.FindingRepository
	findings     map[uuid.UUID][]models.Finding
	scanTypes    map[uuid.UUID][]dtos.ScanType
	dependencies map[uuid.UUID][]models.PipelineDependency
}

func (f fakeFindingRepository) FindByPipelines(ctx context.Context, pipelineIDs []uuid.UUID, filter dtos.FindingFilter) ([]models.Finding, error) {
	var res []models.Finding
	for _, id := range pipelineIDs {
		for _, finding := range f.findings[id] {
			if len(filter.Scanners) > 0 && !slices.Contains(filter.Scanners, finding.ReportType) {
				continue
			}
			if len(filter.SeverityLevels) > 0 && !slices.Contains(filter.SeverityLevels, finding.Severity) {
				continue
			}
			res = append(res, finding)
		}
	}
	return res, nil
}

func (f fakeFindingRepository) ScanTypes(ctx context.Context, pipelineIDs []uuid.UUID) ([]dtos.ScanType, error) {
	var res []dtos.ScanType
	for _, id := range pipelineIDs {
		res = append(res, f.scanTypes[id]...)
	}
	return res, nil
}

func (f fakeFindingRepository) Dependencies(ctx context.Context, pipelineIDs []uuid.UUID) ([]models.PipelineDependency, error) {
	var res []models.PipelineDependency
	for _, id := range pipelineIDs {
		res = append(res, f.dependencies[id]...)
	}
	return res, nil
}

type fakeVulnerabilityRepository struct {
	shared.VulnerabilityRepository
	vulnerabilities []models.Vulnerability
}

func (f fakeVulnerabilityRepository) FindByUUIDs(ctx context.Context, projectID uuid.UUID, uuids []string) ([]models.Vulnerability, error) {
	var res []models.Vulnerability
	for _, v := range f.vulnerabilities {
		if slices.Contains(uuids, v.UUID) {
			res = append(res, v)
		}
	}
	return res, nil
}

func (f fakeVulnerabilityRepository) FindByStates(ctx context.Context, projectID uuid.UUID, states []dtos.VulnerabilityState, severities []dtos.Severity, reportTypes []dtos.ScanType, limit int) ([]models.Vulnerability, int64, error) {
	var res []models.Vulnerability
	for _, v := range f.vulnerabilities {
		if slices.Contains(states, v.State) {
			res = append(res, v)
		}
	}
	total := int64(len(res))
	if len(res) > limit {
		res = res[:limit]
	}
	return res, total, nil
}

type fakeCommitRepository struct {
	shared.MergeRequestRepository
	commits []models.MergeRequestCommit
}

func (f fakeCommitRepository) Commits(ctx context.Context, mergeRequestID uuid.UUID) ([]models.MergeRequestCommit, error) {
	return f.commits, nil
}

// memoryViolationRepository stores the rows of every merge request keyed by policy read.
type memoryViolationRepository struct {
	shared.ScanResultPolicyViolationRepository
	rows    map[uuid.UUID]models.ScanResultPolicyViolation
	upserts int
}

func newMemoryViolationRepository(rows ...models.ScanResultPolicyViolation) *memoryViolationRepository {
	r := &memoryViolationRepository{rows: map[uuid.UUID]models.ScanResultPolicyViolation{}}
	for _, row := range rows {
		r.rows[row.ScanResultPolicyReadID] = row
	}
	return r
}

func (r *memoryViolationRepository) FindByMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]models.ScanResultPolicyViolation, error) {
	res := make([]models.ScanResultPolicyViolation, 0, len(r.rows))
	for _, row := range r.rows {
		if row.MergeRequestID == mergeRequestID {
			res = append(res, row)
		}
	}
	return res, nil
}

func (r *memoryViolationRepository) Upsert(tx shared.DB, violations *[]*models.ScanResultPolicyViolation, conflictingColumns []clause.Column, toUpdate []string) error {
	for _, v := range *violations {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		r.rows[v.ScanResultPolicyReadID] = *v
		r.upserts++
	}
	return nil
}

func (r *memoryViolationRepository) DeleteByPolicies(ctx context.Context, tx shared.DB, mergeRequestID uuid.UUID, policyReadIDs []uuid.UUID) (int64, error) {
	var deleted int64
	for _, id := range policyReadIDs {
		if row, ok := r.rows[id]; ok && row.MergeRequestID == mergeRequestID {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memoryViolationRepository) Transaction(fn func(tx shared.DB) error) error {
	return fn(nil)
}

type recordingBroker struct {
	messages []shared.PubSubMessage
}

func (b *recordingBroker) Publish(ctx context.Context, message shared.PubSubMessage) error {
	b.messages = append(b.messages, message)
	return nil
}

func (b *recordingBroker) Subscribe(topic shared.PubSubChannel) (<-chan map[string]any, error) {
	return make(chan map[string]any), nil
}

func (b *recordingBroker) channels() []shared.PubSubChannel {
	res := make([]shared.PubSubChannel, 0, len(b.messages))
	for _, m := range b.messages {
		res = append(res, m.GetChannel())
	}
	return res
}

type memoryApprovalRuleRepository struct {
	shared.ApprovalRuleRepository
	rules     []models.ApprovalMergeRequestRule
	approvals map[uuid.UUID]int
}

func (r *memoryApprovalRuleRepository) FindMergeRequestRules(ctx context.Context, mergeRequestID uuid.UUID, reportTypes ...dtos.ApprovalReportType) ([]models.ApprovalMergeRequestRule, error) {
	var res []models.ApprovalMergeRequestRule
	for _, rule := range r.rules {
		if len(reportTypes) == 0 || slices.Contains(reportTypes, rule.ReportType) {
			res = append(res, rule)
		}
	}
	return res, nil
}

func (r *memoryApprovalRuleRepository) UpdateApprovalsRequired(ctx context.Context, tx shared.DB, ruleIDs []uuid.UUID, approvalsRequired int) error {
	if r.approvals == nil {
		r.approvals = map[uuid.UUID]int{}
	}
	for _, id := range ruleIDs {
		r.approvals[id] = approvalsRequired
	}
	return nil
}

func (r *memoryApprovalRuleRepository) Transaction(fn func(tx shared.DB) error) error {
	return fn(nil)
}

type staticEnforcer []dtos.ScanType

func (s staticEnforcer) EnforcedScanTypes(ctx context.Context, project models.Project, branch string) ([]dtos.ScanType, error) {
	return s, nil
}

type recordingTracker struct {
	events []string
}

func (r *recordingTracker) TrackEvent(name string, payload map[string]any) {
	r.events = append(r.events, name)
}
