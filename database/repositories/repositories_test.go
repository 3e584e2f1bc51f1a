package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/integrationtestutil"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

func TestProjectControlStatusRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the existing row when the status already exists", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		repo := NewProjectControlStatusRepository(db)

		status := models.ProjectControlComplianceStatus{
			ProjectID:     uuid.New(),
			NamespaceID:   uuid.New(),
			ControlID:     uuid.New(),
			RequirementID: uuid.New(),
			Status:        dtos.ComplianceStatusPending,
		}
		first, err := repo.CreateOrFind(ctx, status)
		require.NoError(t, err)

		status.Status = dtos.ComplianceStatusPass
		second, err := repo.CreateOrFind(ctx, status)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, dtos.ComplianceStatusPending, second.Status)

		var count int64
		require.NoError(t, db.Model(&models.ProjectControlComplianceStatus{}).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})

	t.Run("should count the statuses grouped by value", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		repo := NewProjectControlStatusRepository(db)
		projectID := uuid.New()
		for _, s := range []dtos.ComplianceStatus{dtos.ComplianceStatusPass, dtos.ComplianceStatusPass, dtos.ComplianceStatusFail} {
			_, err := repo.CreateOrFind(ctx, models.ProjectControlComplianceStatus{
				ProjectID:     projectID,
				ControlID:     uuid.New(),
				RequirementID: uuid.New(),
				Status:        s,
			})
			require.NoError(t, err)
		}

		counts, err := repo.CountByStatus(ctx, []uuid.UUID{projectID})
		require.NoError(t, err)
		assert.Equal(t, 2, counts[dtos.ComplianceStatusPass])
		assert.Equal(t, 1, counts[dtos.ComplianceStatusFail])
		assert.Equal(t, 0, counts[dtos.ComplianceStatusPending])
	})
}

func TestProjectRequirementStatusRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("should start new statuses with zero counts", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		repo := NewProjectRequirementStatusRepository(db)

		status, err := repo.FindOrCreate(ctx, models.ProjectRequirementComplianceStatus{
			ProjectID:     uuid.New(),
			RequirementID: uuid.New(),
			FrameworkID:   uuid.New(),
			PassCount:     3,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, status.PassCount)

		again, err := repo.FindOrCreate(ctx, status)
		require.NoError(t, err)
		assert.Equal(t, status.ID, again.ID)
	})

	t.Run("should reject an unknown sort direction", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		repo := NewProjectRequirementStatusRepository(db)

		_, err := repo.List(ctx, dtos.RequirementStatusQuery{OrderBy: dtos.OrderByProject, Direction: "sideways"})
		assert.ErrorIs(t, err, shared.ErrInvalidSortDirection)
	})

	t.Run("should order by project with the id as tiebreak", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		repo := NewProjectRequirementStatusRepository(db)
		projectA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
		projectB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
		for _, p := range []uuid.UUID{projectB, projectA} {
			_, err := repo.FindOrCreate(ctx, models.ProjectRequirementComplianceStatus{ProjectID: p, RequirementID: uuid.New(), FrameworkID: uuid.New()})
			require.NoError(t, err)
		}

		asc, err := repo.List(ctx, dtos.RequirementStatusQuery{OrderBy: dtos.OrderByProject, Direction: "asc"})
		require.NoError(t, err)
		require.Len(t, asc, 2)
		assert.Equal(t, projectA, asc[0].ProjectID)

		desc, err := repo.List(ctx, dtos.RequirementStatusQuery{OrderBy: dtos.OrderByProject, Direction: "desc", ProjectIDs: []uuid.UUID{projectA, projectB}})
		require.NoError(t, err)
		require.Len(t, desc, 2)
		assert.Equal(t, projectB, desc[0].ProjectID)
	})
}

func TestFindingRepository(t *testing.T) {
	ctx := context.Background()
	db := integrationtestutil.NewSQLiteDB(t)
	repo := NewFindingRepository(db)

	projectID := uuid.New()
	pipelineID := uuid.New()
	scan := models.SecurityScan{PipelineID: pipelineID, ProjectID: projectID, ScanType: dtos.ScanTypeSAST, Status: models.ScanStatusSucceeded}
	require.NoError(t, db.Create(&scan).Error)
	failedScan := models.SecurityScan{PipelineID: pipelineID, ProjectID: projectID, ScanType: dtos.ScanTypeDAST, Status: models.ScanStatusFailed}
	require.NoError(t, db.Create(&failedScan).Error)

	findings := []models.Finding{
		{ProjectID: projectID, PipelineID: pipelineID, ScanID: scan.ID, UUID: "a", ReportType: dtos.ScanTypeSAST, Severity: dtos.SeverityHigh, FixAvailable: true},
		{ProjectID: projectID, PipelineID: pipelineID, ScanID: scan.ID, UUID: "b", ReportType: dtos.ScanTypeSAST, Severity: dtos.SeverityLow},
		{ProjectID: projectID, PipelineID: pipelineID, ScanID: failedScan.ID, UUID: "c", ReportType: dtos.ScanTypeDAST, Severity: dtos.SeverityHigh},
	}
	require.NoError(t, db.Create(&findings).Error)

	t.Run("should only return findings of succeeded scans", func(t *testing.T) {
		res, err := repo.FindByPipelines(ctx, []uuid.UUID{pipelineID}, dtos.FindingFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, utils.Map(res, func(f models.Finding) string { return f.UUID }))
	})

	t.Run("should apply severity and attribute filters", func(t *testing.T) {
		res, err := repo.FindByPipelines(ctx, []uuid.UUID{pipelineID}, dtos.FindingFilter{
			SeverityLevels: []dtos.Severity{dtos.SeverityHigh},
			FixAvailable:   utils.Ptr(true),
		})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "a", res[0].UUID)
	})

	t.Run("should list the succeeded scan types", func(t *testing.T) {
		scanTypes, err := repo.ScanTypes(ctx, []uuid.UUID{pipelineID})
		require.NoError(t, err)
		assert.Equal(t, []dtos.ScanType{dtos.ScanTypeSAST}, scanTypes)
	})
}

func TestScanResultPolicyViolationRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("should update the existing violation of the same policy", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		repo := NewScanResultPolicyViolationRepository(db)
		mrID := uuid.New()
		policyID := uuid.New()

		violations := []*models.ScanResultPolicyViolation{{
			ProjectID:              uuid.New(),
			MergeRequestID:         mrID,
			ScanResultPolicyReadID: policyID,
			Status:                 dtos.ViolationStatusRunning,
		}}
		columns := []clause.Column{{Name: "merge_request_id"}, {Name: "scan_result_policy_read_id"}}
		require.NoError(t, repo.Upsert(nil, &violations, columns, []string{"status", "violation_data"}))

		violations[0].ID = uuid.Nil
		violations[0].Status = dtos.ViolationStatusFailed
		violations[0].ViolationData = &dtos.ViolationData{Errors: []dtos.ViolationError{{Error: dtos.ErrorScanRemoved}}}
		require.NoError(t, repo.Upsert(nil, &violations, columns, []string{"status", "violation_data"}))

		stored, err := repo.FindByMergeRequest(ctx, mrID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, dtos.ViolationStatusFailed, stored[0].Status)
		require.NotNil(t, stored[0].ViolationData)
		assert.True(t, stored[0].ViolationData.OnlyError(dtos.ErrorScanRemoved))

		deleted, err := repo.DeleteByPolicies(ctx, nil, mrID, []uuid.UUID{policyID})
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)
	})
}

func TestApprovalRuleRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("should copy the project rules into the open merge requests after a policy sync", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		rules := NewApprovalRuleRepository(db)
		reads := NewScanResultPolicyReadRepository(db)
		mergeRequests := NewMergeRequestRepository(db)
		projectID := uuid.New()

		open := models.MergeRequest{ProjectID: projectID, IID: 1, SourceBranch: "feature", TargetBranch: "main", State: models.MergeRequestStateOpened}
		merged := models.MergeRequest{ProjectID: projectID, IID: 2, SourceBranch: "fix", TargetBranch: "main", State: models.MergeRequestStateMerged}
		require.NoError(t, db.Omit(clause.Associations).Create(&open).Error)
		require.NoError(t, db.Omit(clause.Associations).Create(&merged).Error)

		read := models.ScanResultPolicyRead{ProjectID: projectID, PolicyName: "critical vulnerabilities"}
		require.NoError(t, reads.Upsert(ctx, nil, &read))
		projectRule := models.ApprovalProjectRule{
			ProjectID: projectID,
			ApprovalRuleAttributes: models.ApprovalRuleAttributes{
				Name:              "critical vulnerabilities 0",
				ReportType:        dtos.ReportTypeScanFinding,
				SeverityLevels:    []dtos.Severity{dtos.SeverityCritical},
				ApprovalsRequired: 2,
			},
			ScanResultPolicyReadID: &read.ID,
		}
		require.NoError(t, rules.UpsertProjectRule(ctx, nil, &projectRule))

		openMergeRequests, err := mergeRequests.FindOpenByProject(ctx, projectID)
		require.NoError(t, err)
		require.Len(t, openMergeRequests, 1)
		require.NoError(t, rules.SyncMergeRequestRules(ctx, nil, projectID, []uuid.UUID{openMergeRequests[0].ID}))

		copies, err := rules.FindMergeRequestRules(ctx, open.ID)
		require.NoError(t, err)
		require.Len(t, copies, 1)
		assert.Equal(t, "critical vulnerabilities 0", copies[0].Name)
		assert.Equal(t, dtos.ReportTypeScanFinding, copies[0].ReportType)
		assert.Equal(t, 2, copies[0].ApprovalsRequired)
		require.NotNil(t, copies[0].ApprovalProjectRuleID)
		assert.Equal(t, projectRule.ID, *copies[0].ApprovalProjectRuleID)
		assert.Equal(t, read.ID, *copies[0].ScanResultPolicyReadID)

		others, err := rules.FindMergeRequestRules(ctx, merged.ID)
		require.NoError(t, err)
		assert.Empty(t, others)
	})

	t.Run("should keep a single copy with its evaluated approvals on the next sync", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		rules := NewApprovalRuleRepository(db)
		projectID := uuid.New()
		mergeRequestID := uuid.New()
		readID := uuid.New()

		projectRule := models.ApprovalProjectRule{
			ProjectID:              projectID,
			ApprovalRuleAttributes: models.ApprovalRuleAttributes{Name: "licenses 0", ReportType: dtos.ReportTypeLicenseScanning, ApprovalsRequired: 1},
			ScanResultPolicyReadID: &readID,
		}
		require.NoError(t, rules.UpsertProjectRule(ctx, nil, &projectRule))
		require.NoError(t, rules.SyncMergeRequestRules(ctx, nil, projectID, []uuid.UUID{mergeRequestID}))

		copies, err := rules.FindMergeRequestRules(ctx, mergeRequestID)
		require.NoError(t, err)
		require.Len(t, copies, 1)
		require.NoError(t, rules.UpdateApprovalsRequired(ctx, nil, []uuid.UUID{copies[0].ID}, 0))

		require.NoError(t, db.Model(&models.ApprovalProjectRule{}).Where("id = ?", projectRule.ID).Update("name", "licenses renamed").Error)
		require.NoError(t, rules.SyncMergeRequestRules(ctx, nil, projectID, []uuid.UUID{mergeRequestID}))

		copies, err = rules.FindMergeRequestRules(ctx, mergeRequestID)
		require.NoError(t, err)
		require.Len(t, copies, 1)
		assert.Equal(t, "licenses renamed", copies[0].Name)
		assert.Equal(t, 0, copies[0].ApprovalsRequired)
	})

	t.Run("should do nothing without merge requests", func(t *testing.T) {
		db := integrationtestutil.NewSQLiteDB(t)
		rules := NewApprovalRuleRepository(db)

		assert.NoError(t, rules.SyncMergeRequestRules(ctx, nil, uuid.New(), nil))
	})
}

func TestIssuableRepository(t *testing.T) {
	ctx := context.Background()
	db := integrationtestutil.NewSQLiteDB(t)
	repo := NewIssuableRepository(db)
	projectID := uuid.New()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issues := []models.Issue{
		{Model: models.Model{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), CreatedAt: base, UpdatedAt: base}, ProjectID: projectID, IID: 1},
		{Model: models.Model{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), CreatedAt: base, UpdatedAt: base}, ProjectID: projectID, IID: 2},
		{Model: models.Model{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), CreatedAt: base, UpdatedAt: base.Add(time.Hour)}, ProjectID: projectID, IID: 3},
	}
	require.NoError(t, db.Create(&issues).Error)
	// gorm sets updated_at on create
	for _, issue := range issues {
		require.NoError(t, db.Model(&models.Issue{}).Where("id = ?", issue.ID).UpdateColumn("updated_at", issue.UpdatedAt).Error)
	}

	t.Run("should page through the issuables by updated_at and id", func(t *testing.T) {
		var cursor *dtos.LoaderCursor
		var seen []uuid.UUID
		for range 5 {
			batch, err := repo.Batch(ctx, dtos.AnalyticsModelIssue, []uuid.UUID{projectID}, cursor, 1)
			require.NoError(t, err)
			if len(batch) == 0 {
				break
			}
			seen = append(seen, batch[0].ID)
			cursor = &dtos.LoaderCursor{UpdatedAt: batch[0].UpdatedAt, ID: batch[0].ID}
		}
		assert.Equal(t, []uuid.UUID{issues[1].ID, issues[0].ID, issues[2].ID}, seen)
	})

	t.Run("should reject unsupported models", func(t *testing.T) {
		_, err := repo.Batch(ctx, dtos.AnalyticsModel("Epic"), []uuid.UUID{projectID}, nil, 1)
		assert.ErrorIs(t, err, shared.ErrUnsupportedModel)
	})
}
