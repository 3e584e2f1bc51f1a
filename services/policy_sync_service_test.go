package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/policy"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type staticPolicyReader struct {
	blob policy.Blob
	err  error
}

func (s staticPolicyReader) Read(ctx context.Context, repository, ref string) (policy.Blob, error) {
	return s.blob, s.err
}

type memoryPolicyReadRepository struct {
	shared.ScanResultPolicyReadRepository
	reads map[[2]int]models.ScanResultPolicyRead
	kept  []uuid.UUID
}

func (m *memoryPolicyReadRepository) Upsert(ctx context.Context, tx shared.DB, read *models.ScanResultPolicyRead) error {
	if m.reads == nil {
		m.reads = map[[2]int]models.ScanResultPolicyRead{}
	}
	key := [2]int{read.PolicyIndex, read.RuleIndex}
	if existing, ok := m.reads[key]; ok {
		read.ID = existing.ID
	} else {
		read.ID = uuid.New()
	}
	m.reads[key] = *read
	return nil
}

func (m *memoryPolicyReadRepository) DeleteStale(ctx context.Context, tx shared.DB, projectID uuid.UUID, keep []uuid.UUID) error {
	m.kept = keep
	for key, read := range m.reads {
		if !containsUUID(keep, read.ID) {
			delete(m.reads, key)
		}
	}
	return nil
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

type projectRuleRepository struct {
	memoryApprovalRuleRepository
	projectRules []models.ApprovalProjectRule
	// merge request ids the project rules were copied into
	copiedInto []uuid.UUID
}

func (p *projectRuleRepository) SyncMergeRequestRules(ctx context.Context, tx shared.DB, projectID uuid.UUID, mergeRequestIDs []uuid.UUID) error {
	p.copiedInto = append(p.copiedInto, mergeRequestIDs...)
	return nil
}

type openMergeRequests struct {
	shared.MergeRequestRepository
	mergeRequests []models.MergeRequest
}

func (o openMergeRequests) FindOpenByProject(ctx context.Context, projectID uuid.UUID) ([]models.MergeRequest, error) {
	return o.mergeRequests, nil
}

func (p *projectRuleRepository) UpsertProjectRule(ctx context.Context, tx shared.DB, rule *models.ApprovalProjectRule) error {
	p.projectRules = append(p.projectRules, *rule)
	return nil
}

type memoryConfigService struct {
	values map[string][]byte
}

func (m *memoryConfigService) GetJSONConfig(key string, v any) error {
	b, ok := m.values[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	return json.Unmarshal(b, v)
}

func (m *memoryConfigService) SetJSONConfig(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.values == nil {
		m.values = map[string][]byte{}
	}
	m.values[key] = b
	return nil
}

func licensed(features ...string) *LicenseService {
	configService := &memoryConfigService{}
	_ = configService.SetJSONConfig(licensedFeaturesKey, features)
	return NewLicenseService(configService)
}

func testDocument() policy.Document {
	allBranches := dtos.BranchTypeAll
	inclusion := true
	return policy.Document{
		ApprovalPolicies: []policy.ApprovalPolicy{
			{
				Name:    "critical vulnerabilities",
				Enabled: true,
				Rules: []policy.ApprovalRule{{
					Type:           policy.RuleTypeScanFinding,
					BranchScope:    policy.BranchScope{BranchType: &allBranches},
					Scanners:       []dtos.ScanType{dtos.ScanTypeDependencyScanning},
					SeverityLevels: []dtos.Severity{dtos.SeverityCritical},
				}},
				Actions:          []policy.ApprovalAction{{Type: "require_approval", ApprovalsRequired: 2}},
				FallbackBehavior: &policy.FallbackBehavior{Fail: dtos.FallbackOpen},
			},
			{
				Name:    "disabled",
				Enabled: false,
				Rules:   []policy.ApprovalRule{{Type: policy.RuleTypeAnyMergeRequest}},
			},
		},
		ScanResultPolicies: []policy.ApprovalPolicy{
			{
				Name:            "licenses",
				Enabled:         true,
				EnforcementType: policy.EnforcementWarn,
				Rules: []policy.ApprovalRule{{
					Type:                    policy.RuleTypeLicenseFinding,
					MatchOnInclusionLicense: &inclusion,
					LicenseTypes:            []string{"GPL-3.0"},
				}},
			},
		},
	}
}

func TestPolicySyncService(t *testing.T) {
	project := models.Project{Model: models.Model{ID: uuid.New()}, FullPath: "group/app", SecurityPolicyRepository: "group/security-policies"}
	openMergeRequest := models.MergeRequest{Model: models.Model{ID: uuid.New()}, ProjectID: project.ID}

	newService := func(reader policyReader, licenseService shared.LicenseService) (*PolicySyncService, *memoryPolicyReadRepository, *projectRuleRepository) {
		reads := &memoryPolicyReadRepository{}
		rules := &projectRuleRepository{}
		return &PolicySyncService{
			reader:                 reader,
			policyReadRepository:   reads,
			approvalRuleRepository: rules,
			mergeRequestRepository: openMergeRequests{mergeRequests: []models.MergeRequest{openMergeRequest}},
			licenseService:         licenseService,
		}, reads, rules
	}

	t.Run("should create a snapshot and project rule per rule of the enabled policies", func(t *testing.T) {
		service, reads, rules := newService(staticPolicyReader{blob: policy.Blob{SHA: "abc", Document: testDocument()}}, licensed(FeatureSecurityPolicies))

		require.NoError(t, service.SyncProject(context.Background(), project))

		require.Len(t, reads.reads, 2)
		critical := reads.reads[[2]int{0, 0}]
		assert.Equal(t, "critical vulnerabilities", critical.PolicyName)
		assert.Equal(t, dtos.FallbackOpen, critical.FallbackBehavior)
		assert.Equal(t, "abc", critical.ConfigurationSHA)
		assert.False(t, critical.WarnMode)

		licenses := reads.reads[[2]int{1, 0}]
		assert.True(t, licenses.WarnMode)
		assert.Equal(t, dtos.FallbackClosed, licenses.FallbackBehavior)
		assert.Equal(t, dtos.LicensePolicy{MatchOnInclusion: true, LicenseTypes: []string{"GPL-3.0"}}, licenses.Licenses.Data())

		require.Len(t, rules.projectRules, 2)
		assert.Equal(t, "critical vulnerabilities 0", rules.projectRules[0].Name)
		assert.Equal(t, 2, rules.projectRules[0].ApprovalsRequired)
		assert.Equal(t, dtos.ReportTypeScanFinding, rules.projectRules[0].ReportType)
		assert.Equal(t, critical.ID, *rules.projectRules[0].ScanResultPolicyReadID)
		assert.Equal(t, dtos.ReportTypeLicenseScanning, rules.projectRules[1].ReportType)

		assert.ElementsMatch(t, []uuid.UUID{critical.ID, licenses.ID}, reads.kept)
		assert.Equal(t, []uuid.UUID{openMergeRequest.ID}, rules.copiedInto)
	})

	t.Run("should drop every snapshot when the policy file is gone", func(t *testing.T) {
		service, reads, rules := newService(staticPolicyReader{err: policy.ErrPolicyNotFound}, licensed(FeatureSecurityPolicies))

		require.NoError(t, service.SyncProject(context.Background(), project))
		assert.Empty(t, reads.kept)
		assert.NotNil(t, reads.kept)
		assert.Empty(t, rules.projectRules)
	})

	t.Run("should fail on read errors without touching the snapshots", func(t *testing.T) {
		service, reads, _ := newService(staticPolicyReader{err: errors.New("clone is corrupt")}, licensed(FeatureSecurityPolicies))

		assert.Error(t, service.SyncProject(context.Background(), project))
		assert.Nil(t, reads.kept)
	})

	t.Run("should do nothing without the licensed feature", func(t *testing.T) {
		service, reads, rules := newService(staticPolicyReader{blob: policy.Blob{SHA: "abc", Document: testDocument()}}, licensed())

		require.NoError(t, service.SyncProject(context.Background(), project))
		assert.Empty(t, reads.reads)
		assert.Nil(t, reads.kept)
		assert.Empty(t, rules.copiedInto)
	})

	t.Run("should answer the enforced scans of the scan execution policies", func(t *testing.T) {
		service, _, _ := newService(staticPolicyReader{err: policy.ErrPolicyNotFound}, licensed(FeatureSecurityPolicies))

		scans, err := service.EnforcedScanTypes(context.Background(), project, "main")
		require.NoError(t, err)
		assert.Empty(t, scans)
	})
}

func TestLicenseService(t *testing.T) {
	t.Run("should read licensed features from the config", func(t *testing.T) {
		service := licensed(FeatureCompliance)
		assert.True(t, service.FeatureAvailable(FeatureCompliance))
		assert.False(t, service.FeatureAvailable(FeatureCycleAnalytics))
	})

	t.Run("should merge features from the environment", func(t *testing.T) {
		t.Setenv("LICENSED_FEATURES", " cycle_analytics_for_groups , ")
		service := NewLicenseService(&memoryConfigService{})
		assert.True(t, service.FeatureAvailable(FeatureCycleAnalytics))
		assert.False(t, service.FeatureAvailable(FeatureCompliance))
	})
}
