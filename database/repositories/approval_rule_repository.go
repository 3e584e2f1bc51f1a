// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type approvalRuleRepository struct {
	*GormRepository[uuid.UUID, models.ApprovalMergeRequestRule]
	db *gorm.DB
}

func NewApprovalRuleRepository(db *gorm.DB) *approvalRuleRepository {
	return &approvalRuleRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ApprovalMergeRequestRule](db),
	}
}

func (r *approvalRuleRepository) FindMergeRequestRules(ctx context.Context, mergeRequestID uuid.UUID, reportTypes ...dtos.ApprovalReportType) ([]models.ApprovalMergeRequestRule, error) {
	var rules []models.ApprovalMergeRequestRule
	q := r.db.WithContext(ctx).
		Preload("ApprovalProjectRule").
		Preload("ScanResultPolicyRead").
		Where("merge_request_id = ?", mergeRequestID)
	if len(reportTypes) > 0 {
		q = q.Where("report_type IN ?", reportTypes)
	}
	err := q.Order("created_at ASC, id ASC").Find(&rules).Error
	return rules, err
}

// UpdateApprovalsRequired only touches merge request rules. The project rule
// is the template and never changed by an evaluation.
func (r *approvalRuleRepository) UpdateApprovalsRequired(ctx context.Context, tx *gorm.DB, ruleIDs []uuid.UUID, approvalsRequired int) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	return r.GetDB(tx).WithContext(ctx).Model(&models.ApprovalMergeRequestRule{}).
		Where("id IN ?", ruleIDs).
		Update("approvals_required", approvalsRequired).Error
}

func (r *approvalRuleRepository) FindProjectRules(ctx context.Context, projectID uuid.UUID) ([]models.ApprovalProjectRule, error) {
	var rules []models.ApprovalProjectRule
	err := r.db.WithContext(ctx).
		Preload("ScanResultPolicyRead").
		Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Find(&rules).Error
	return rules, err
}

// UpsertProjectRule keys the project rule on its policy snapshot.
func (r *approvalRuleRepository) UpsertProjectRule(ctx context.Context, tx *gorm.DB, rule *models.ApprovalProjectRule) error {
	return r.GetDB(tx).WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scan_result_policy_read_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "report_type", "scanners", "severity_levels", "vulnerability_states",
			"vulnerabilities_allowed", "approvals_required", "updated_at",
		}),
	}).Create(rule).Error
}

// SyncMergeRequestRules copies every project rule of the project into each of
// the merge requests. Existing copies keep their approvals_required, the
// remaining attributes follow the project rule.
func (r *approvalRuleRepository) SyncMergeRequestRules(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, mergeRequestIDs []uuid.UUID) error {
	if len(mergeRequestIDs) == 0 {
		return nil
	}
	db := r.GetDB(tx).WithContext(ctx)
	var projectRules []models.ApprovalProjectRule
	err := db.Where("project_id = ?", projectID).Order("created_at ASC, id ASC").Find(&projectRules).Error
	if err != nil {
		return err
	}
	if len(projectRules) == 0 {
		return nil
	}

	rules := make([]models.ApprovalMergeRequestRule, 0, len(projectRules)*len(mergeRequestIDs))
	for _, mergeRequestID := range mergeRequestIDs {
		for _, projectRule := range projectRules {
			rules = append(rules, models.ApprovalMergeRequestRule{
				MergeRequestID:         mergeRequestID,
				ApprovalRuleAttributes: projectRule.ApprovalRuleAttributes,
				ApprovalProjectRuleID:  &projectRule.ID,
				ScanResultPolicyReadID: projectRule.ScanResultPolicyReadID,
			})
		}
	}
	return db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "merge_request_id"}, {Name: "approval_project_rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "report_type", "scanners", "severity_levels", "vulnerability_states",
			"vulnerabilities_allowed", "scan_result_policy_read_id", "updated_at",
		}),
	}).CreateInBatches(&rules, 500).Error
}

type scanResultPolicyReadRepository struct {
	*GormRepository[uuid.UUID, models.ScanResultPolicyRead]
	db *gorm.DB
}

func NewScanResultPolicyReadRepository(db *gorm.DB) *scanResultPolicyReadRepository {
	return &scanResultPolicyReadRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ScanResultPolicyRead](db),
	}
}

func (r *scanResultPolicyReadRepository) FindByProject(ctx context.Context, projectID uuid.UUID) ([]models.ScanResultPolicyRead, error) {
	var reads []models.ScanResultPolicyRead
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("policy_index ASC, rule_index ASC").Find(&reads).Error
	return reads, err
}

// Upsert keys the snapshot on its position in the policy file. The id of an
// existing row is written back into read.
func (r *scanResultPolicyReadRepository) Upsert(ctx context.Context, tx *gorm.DB, read *models.ScanResultPolicyRead) error {
	db := r.GetDB(tx).WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "policy_index"}, {Name: "rule_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"policy_name", "fallback_behavior", "commits", "license_states", "licenses", "vulnerability_attributes",
			"policy_tuning", "branch_exceptions", "branch_type", "branches", "warn_mode", "configuration_sha", "updated_at",
		}),
	}).Create(read).Error
	if err != nil {
		return err
	}
	var stored models.ScanResultPolicyRead
	err = db.Select("id").
		Where("project_id = ? AND policy_index = ? AND rule_index = ?", read.ProjectID, read.PolicyIndex, read.RuleIndex).
		First(&stored).Error
	if err != nil {
		return err
	}
	read.ID = stored.ID
	return nil
}

// DeleteStale removes the snapshots of rules which no longer exist in the
// policy file. Project rules and violations cascade.
func (r *scanResultPolicyReadRepository) DeleteStale(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, keep []uuid.UUID) error {
	q := r.GetDB(tx).WithContext(ctx).Where("project_id = ?", projectID)
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	return q.Delete(&models.ScanResultPolicyRead{}).Error
}

type scanResultPolicyViolationRepository struct {
	*GormRepository[uuid.UUID, models.ScanResultPolicyViolation]
	db *gorm.DB
}

func NewScanResultPolicyViolationRepository(db *gorm.DB) *scanResultPolicyViolationRepository {
	return &scanResultPolicyViolationRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ScanResultPolicyViolation](db),
	}
}

func (r *scanResultPolicyViolationRepository) FindByMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]models.ScanResultPolicyViolation, error) {
	var violations []models.ScanResultPolicyViolation
	err := r.db.WithContext(ctx).
		Preload("ScanResultPolicyRead").
		Where("merge_request_id = ?", mergeRequestID).
		Order("created_at ASC, id ASC").
		Find(&violations).Error
	return violations, err
}

func (r *scanResultPolicyViolationRepository) Upsert(tx *gorm.DB, violations *[]*models.ScanResultPolicyViolation, conflictingColumns []clause.Column, toUpdate []string) error {
	if len(*violations) == 0 {
		return nil
	}
	onConflict := clause.OnConflict{Columns: conflictingColumns}
	if len(toUpdate) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(toUpdate)
	} else {
		onConflict.UpdateAll = true
	}
	return r.GetDB(tx).Omit(clause.Associations).Clauses(onConflict).Create(violations).Error
}

func (r *scanResultPolicyViolationRepository) DeleteByPolicies(ctx context.Context, tx *gorm.DB, mergeRequestID uuid.UUID, policyReadIDs []uuid.UUID) (int64, error) {
	if len(policyReadIDs) == 0 {
		return 0, nil
	}
	res := r.GetDB(tx).WithContext(ctx).
		Where("merge_request_id = ? AND scan_result_policy_read_id IN ?", mergeRequestID, policyReadIDs).
		Delete(&models.ScanResultPolicyViolation{})
	return res.RowsAffected, res.Error
}
