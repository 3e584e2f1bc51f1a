package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mergeRequestReader struct {
	shared.MergeRequestRepository
	mergeRequest models.MergeRequest
}

func (m mergeRequestReader) Read(id uuid.UUID) (models.MergeRequest, error) {
	if id != m.mergeRequest.ID {
		return models.MergeRequest{}, gorm.ErrRecordNotFound
	}
	return m.mergeRequest, nil
}

// memoryCommentStore behaves like a forge holding at most one bot comment.
type memoryCommentStore struct {
	comment *dtos.BotComment
	creates int
	updates int
}

func (m *memoryCommentStore) FindBotComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest) (*dtos.BotComment, error) {
	if m.comment == nil {
		return nil, nil
	}
	c := *m.comment
	return &c, nil
}

func (m *memoryCommentStore) CreateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, body string) error {
	m.creates++
	m.comment = &dtos.BotComment{ID: "1", Body: body}
	return nil
}

func (m *memoryCommentStore) UpdateComment(ctx context.Context, project models.Project, mergeRequest models.MergeRequest, commentID string, body string) error {
	m.updates++
	m.comment = &dtos.BotComment{ID: commentID, Body: body}
	return nil
}

type fakeLease struct {
	taken    bool
	released int
}

func (l *fakeLease) Obtain(ctx context.Context, key string, wait time.Duration) (func(), error) {
	if l.taken {
		return nil, shared.LockTimeoutError{Key: key}
	}
	return func() { l.released++ }, nil
}

type commentHarness struct {
	mergeRequest models.MergeRequest
	pipelineID   uuid.UUID
	rules        *memoryApprovalRuleRepository
	violations   *memoryViolationRepository
	findings     fakeFindingRepository
	store        *memoryCommentStore
	lease        *fakeLease
}

func newCommentHarness() *commentHarness {
	project := models.Project{Model: models.Model{ID: uuid.New()}, WebURL: "https://gitlab.example.com/group/app"}
	return &commentHarness{
		mergeRequest: models.MergeRequest{Model: models.Model{ID: uuid.New()}, ProjectID: project.ID, Project: project, SourceBranch: "feature", TargetBranch: "main"},
		pipelineID:   uuid.New(),
		rules:        &memoryApprovalRuleRepository{},
		violations:   newMemoryViolationRepository(),
		findings:     fakeFindingRepository{findings: map[uuid.UUID][]models.Finding{}},
		store:        &memoryCommentStore{},
		lease:        &fakeLease{},
	}
}

func (h *commentHarness) service() *GeneratePolicyCommentService {
	return NewGeneratePolicyCommentService(
		mergeRequestReader{mergeRequest: h.mergeRequest},
		nil,
		h.rules,
		h.violations,
		fakeVulnerabilityRepository{},
		NewFindingsFinder(nil, h.findings),
		h.store,
		h.lease,
	)
}

// violate stores a failed scan_finding violation for a new finding of the pipeline.
func (h *commentHarness) violate(policyName string) {
	policy := newPolicyRead(policyName)
	rule := ruleWithPolicy(2, policy)
	rule.Name = policyName
	h.rules.rules = append(h.rules.rules, rule)
	h.findings.findings[h.pipelineID] = append(h.findings.findings[h.pipelineID], models.Finding{
		UUID:       "finding-" + policyName,
		Name:       "CVE-2024-" + policyName,
		ReportType: dtos.ScanTypeDependencyScanning,
		Severity:   dtos.SeverityCritical,
	})
	h.violations.rows[policy.ID] = models.ScanResultPolicyViolation{
		MergeRequestID:         h.mergeRequest.ID,
		ScanResultPolicyReadID: policy.ID,
		ScanResultPolicyRead:   policy,
		Status:                 dtos.ViolationStatusFailed,
		ViolationData: &dtos.ViolationData{
			Violations: map[dtos.ApprovalReportType]dtos.ReportViolation{
				dtos.ReportTypeScanFinding: newlyDetected("finding-" + policyName),
			},
			Context: &dtos.ViolationContext{PipelineIDs: []uuid.UUID{h.pipelineID}},
		},
	}
}

func TestGeneratePolicyCommentService(t *testing.T) {
	violatedEvent := func(h *commentHarness) dtos.GenerateCommentEvent {
		return dtos.GenerateCommentEvent{MergeRequestID: h.mergeRequest.ID, ReportType: dtos.ReportTypeScanFinding, Violated: true, RequiresApproval: true}
	}

	t.Run("should create the comment with the violated findings", func(t *testing.T) {
		h := newCommentHarness()
		h.violate("0001")

		require.NoError(t, h.service().Execute(context.Background(), violatedEvent(h)))

		require.NotNil(t, h.store.comment)
		assert.Equal(t, 1, h.store.creates)
		body := h.store.comment.Body
		assert.Contains(t, body, "<!-- violated_reports: scan_finding -->")
		assert.Contains(t, body, "- Resolve all violations in the following merge request approval policies: 0001")
		assert.Contains(t, body, "| Critical | Dependency scanning | CVE-2024-0001 |")
		assert.Equal(t, 1, h.lease.released)
	})

	t.Run("should not touch an up to date comment", func(t *testing.T) {
		h := newCommentHarness()
		h.violate("0001")
		service := h.service()

		require.NoError(t, service.Execute(context.Background(), violatedEvent(h)))
		require.NoError(t, service.Execute(context.Background(), violatedEvent(h)))

		assert.Equal(t, 1, h.store.creates)
		assert.Equal(t, 0, h.store.updates)
	})

	t.Run("should mark the comment resolved once the report type passes", func(t *testing.T) {
		h := newCommentHarness()
		h.violate("0001")
		service := h.service()
		require.NoError(t, service.Execute(context.Background(), violatedEvent(h)))

		h.violations.rows = map[uuid.UUID]models.ScanResultPolicyViolation{}
		require.NoError(t, service.Execute(context.Background(), dtos.GenerateCommentEvent{MergeRequestID: h.mergeRequest.ID, ReportType: dtos.ReportTypeScanFinding}))

		assert.Equal(t, 1, h.store.updates)
		assert.Contains(t, h.store.comment.Body, "Security policy violations have been resolved.")
		assert.Contains(t, h.store.comment.Body, "<!-- violated_reports:  -->")
	})

	t.Run("should not create a comment for a merge request without violations", func(t *testing.T) {
		h := newCommentHarness()

		require.NoError(t, h.service().Execute(context.Background(), dtos.GenerateCommentEvent{MergeRequestID: h.mergeRequest.ID, ReportType: dtos.ReportTypeScanFinding}))
		assert.Nil(t, h.store.comment)
		assert.Equal(t, 0, h.store.creates)
	})

	t.Run("should return a lock timeout when the lease is taken", func(t *testing.T) {
		h := newCommentHarness()
		h.violate("0001")
		h.lease.taken = true

		err := h.service().Execute(context.Background(), violatedEvent(h))
		assert.ErrorIs(t, err, shared.ErrLockTimeout)
		assert.Nil(t, h.store.comment)
	})

	t.Run("should list fail open policies separately", func(t *testing.T) {
		h := newCommentHarness()
		h.violate("0001")
		for id, row := range h.violations.rows {
			row.Status = dtos.ViolationStatusWarn
			row.ViolationData = &dtos.ViolationData{Errors: []dtos.ViolationError{{Error: dtos.ErrorScanRemoved, MissingScans: []string{"sast"}}}}
			h.violations.rows[id] = row
		}

		details, err := h.service().Details(context.Background(), h.mergeRequest, h.mergeRequest.Project)
		require.NoError(t, err)
		assert.Equal(t, []string{"0001"}, details.FailOpenPolicies)
		assert.Empty(t, details.ViolatedPolicies)
		require.Len(t, details.Errors, 1)
		assert.Equal(t, dtos.ErrorScanRemoved, details.Errors[0].Code)
	})
}
