// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type complianceFrameworkRepository struct {
	*GormRepository[uuid.UUID, models.ComplianceFramework]
	db *gorm.DB
}

func NewComplianceFrameworkRepository(db *gorm.DB) *complianceFrameworkRepository {
	return &complianceFrameworkRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ComplianceFramework](db),
	}
}

func (r *complianceFrameworkRepository) Read(id uuid.UUID) (models.ComplianceFramework, error) {
	var framework models.ComplianceFramework
	err := r.db.Preload("Namespace").First(&framework, "id = ?", id).Error
	return framework, err
}

func (r *complianceFrameworkRepository) CountByNamespace(ctx context.Context, namespaceID uuid.UUID, name string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ComplianceFramework{}).
		Where("namespace_id = ? AND name = ?", namespaceID, name).
		Count(&count).Error
	return count, err
}

func (r *complianceFrameworkRepository) AppliedFrameworkIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	var settings []models.ComplianceFrameworkProjectSetting
	err := r.db.WithContext(ctx).Select("framework_id").Where("project_id = ?", projectID).Order("created_at ASC").Find(&settings).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(settings))
	for _, s := range settings {
		ids = append(ids, s.FrameworkID)
	}
	return ids, nil
}

func (r *complianceFrameworkRepository) CountProjectSettings(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ComplianceFrameworkProjectSetting{}).Where("project_id = ?", projectID).Count(&count).Error
	return count, err
}

func (r *complianceFrameworkRepository) CreateProjectSetting(ctx context.Context, setting *models.ComplianceFrameworkProjectSetting) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(setting).Error
}

type complianceRequirementRepository struct {
	*GormRepository[uuid.UUID, models.ComplianceRequirement]
	db *gorm.DB
}

func NewComplianceRequirementRepository(db *gorm.DB) *complianceRequirementRepository {
	return &complianceRequirementRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ComplianceRequirement](db),
	}
}

func (r *complianceRequirementRepository) Read(id uuid.UUID) (models.ComplianceRequirement, error) {
	var requirement models.ComplianceRequirement
	err := r.db.Preload("Framework").First(&requirement, "id = ?", id).Error
	return requirement, err
}

func (r *complianceRequirementRepository) CountByFramework(ctx context.Context, frameworkID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ComplianceRequirement{}).Where("framework_id = ?", frameworkID).Count(&count).Error
	return count, err
}

func (r *complianceRequirementRepository) FindByFrameworks(ctx context.Context, frameworkIDs []uuid.UUID) ([]models.ComplianceRequirement, error) {
	if len(frameworkIDs) == 0 {
		return nil, nil
	}
	var requirements []models.ComplianceRequirement
	err := r.db.WithContext(ctx).Preload("Framework").Where("framework_id IN ?", frameworkIDs).Order("created_at ASC, id ASC").Find(&requirements).Error
	return requirements, err
}

type complianceControlRepository struct {
	*GormRepository[uuid.UUID, models.ComplianceRequirementsControl]
	db *gorm.DB
}

func NewComplianceControlRepository(db *gorm.DB) *complianceControlRepository {
	return &complianceControlRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ComplianceRequirementsControl](db),
	}
}

func (r *complianceControlRepository) Read(id uuid.UUID) (models.ComplianceRequirementsControl, error) {
	var control models.ComplianceRequirementsControl
	err := r.db.Preload("Requirement.Framework").First(&control, "id = ?", id).Error
	return control, err
}

func (r *complianceControlRepository) FindByRequirement(ctx context.Context, requirementID uuid.UUID) ([]models.ComplianceRequirementsControl, error) {
	return r.FindByRequirements(ctx, []uuid.UUID{requirementID})
}

func (r *complianceControlRepository) FindByRequirements(ctx context.Context, requirementIDs []uuid.UUID) ([]models.ComplianceRequirementsControl, error) {
	if len(requirementIDs) == 0 {
		return nil, nil
	}
	var controls []models.ComplianceRequirementsControl
	err := r.db.WithContext(ctx).Where("requirement_id IN ?", requirementIDs).Order("created_at ASC, id ASC").Find(&controls).Error
	return controls, err
}

type projectControlStatusRepository struct {
	*GormRepository[uuid.UUID, models.ProjectControlComplianceStatus]
	db *gorm.DB
}

func NewProjectControlStatusRepository(db *gorm.DB) *projectControlStatusRepository {
	return &projectControlStatusRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ProjectControlComplianceStatus](db),
	}
}

const controlStatusUniqueIndex = "idx_control_statuses_project_control"

func (r *projectControlStatusRepository) CreateOrFind(ctx context.Context, status models.ProjectControlComplianceStatus) (models.ProjectControlComplianceStatus, error) {
	db := r.db.WithContext(ctx)
	return createOrFind(db, &status,
		[]clause.Column{{Name: "project_id"}, {Name: "compliance_requirements_control_id"}},
		controlStatusUniqueIndex,
		func(db *gorm.DB) (models.ProjectControlComplianceStatus, error) {
			var existing models.ProjectControlComplianceStatus
			err := db.Where("project_id = ? AND compliance_requirements_control_id = ?", status.ProjectID, status.ControlID).First(&existing).Error
			return existing, err
		})
}

func (r *projectControlStatusRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status dtos.ComplianceStatus) error {
	return r.db.WithContext(ctx).Model(&models.ProjectControlComplianceStatus{}).Where("id = ?", id).Update("status", status).Error
}

func (r *projectControlStatusRepository) FindByProjectAndRequirement(ctx context.Context, projectID, requirementID uuid.UUID) ([]models.ProjectControlComplianceStatus, error) {
	var statuses []models.ProjectControlComplianceStatus
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND compliance_requirement_id = ?", projectID, requirementID).
		Order("created_at ASC, id ASC").
		Find(&statuses).Error
	return statuses, err
}

func (r *projectControlStatusRepository) CountByStatus(ctx context.Context, projectIDs []uuid.UUID) (map[dtos.ComplianceStatus]int, error) {
	res := map[dtos.ComplianceStatus]int{}
	if len(projectIDs) == 0 {
		return res, nil
	}
	var rows []struct {
		Status dtos.ComplianceStatus
		Count  int
	}
	err := r.db.WithContext(ctx).Model(&models.ProjectControlComplianceStatus{}).
		Select("status, COUNT(*) AS count").
		Where("project_id IN ?", projectIDs).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		res[row.Status] = row.Count
	}
	return res, nil
}

type projectRequirementStatusRepository struct {
	*GormRepository[uuid.UUID, models.ProjectRequirementComplianceStatus]
	db *gorm.DB
}

func NewProjectRequirementStatusRepository(db *gorm.DB) *projectRequirementStatusRepository {
	return &projectRequirementStatusRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ProjectRequirementComplianceStatus](db),
	}
}

const requirementStatusUniqueIndex = "idx_requirement_statuses_project_requirement"

func (r *projectRequirementStatusRepository) FindOrCreate(ctx context.Context, status models.ProjectRequirementComplianceStatus) (models.ProjectRequirementComplianceStatus, error) {
	db := r.db.WithContext(ctx)
	find := func(db *gorm.DB) (models.ProjectRequirementComplianceStatus, error) {
		var existing models.ProjectRequirementComplianceStatus
		err := db.Where("project_id = ? AND compliance_requirement_id = ?", status.ProjectID, status.RequirementID).First(&existing).Error
		return existing, err
	}
	existing, err := find(db)
	if err == nil {
		return existing, nil
	}
	status.PassCount, status.FailCount, status.PendingCount = 0, 0, 0
	return createOrFind(db, &status,
		[]clause.Column{{Name: "project_id"}, {Name: "compliance_requirement_id"}},
		requirementStatusUniqueIndex,
		find)
}

var requirementStatusOrderColumns = map[dtos.RequirementStatusOrder]string{
	dtos.OrderByUpdatedAt:   "updated_at",
	dtos.OrderByProject:     "project_id",
	dtos.OrderByRequirement: "compliance_requirement_id",
	dtos.OrderByFramework:   "compliance_framework_id",
}

func (r *projectRequirementStatusRepository) List(ctx context.Context, query dtos.RequirementStatusQuery) ([]models.ProjectRequirementComplianceStatus, error) {
	direction := strings.ToLower(query.Direction)
	switch direction {
	case "":
		direction = "asc"
	case "asc", "desc":
	default:
		return nil, fmt.Errorf("%w: %s", shared.ErrInvalidSortDirection, query.Direction)
	}
	column, ok := requirementStatusOrderColumns[query.OrderBy]
	if !ok {
		column = requirementStatusOrderColumns[dtos.OrderByUpdatedAt]
	}

	q := r.db.WithContext(ctx).Model(&models.ProjectRequirementComplianceStatus{})
	if len(query.ProjectIDs) > 0 {
		q = q.Where("project_id IN ?", query.ProjectIDs)
	}
	if len(query.RequirementIDs) > 0 {
		q = q.Where("compliance_requirement_id IN ?", query.RequirementIDs)
	}
	if len(query.FrameworkIDs) > 0 {
		q = q.Where("compliance_framework_id IN ?", query.FrameworkIDs)
	}
	var statuses []models.ProjectRequirementComplianceStatus
	err := q.Order(fmt.Sprintf("%s %s, id %s", column, direction, direction)).Find(&statuses).Error
	return statuses, err
}

func (r *projectRequirementStatusRepository) UpdateCounts(ctx context.Context, id uuid.UUID, pass, fail, pending int) error {
	return r.db.WithContext(ctx).Model(&models.ProjectRequirementComplianceStatus{}).Where("id = ?", id).Updates(map[string]any{
		"pass_count":    pass,
		"fail_count":    fail,
		"pending_count": pending,
	}).Error
}

func (r *projectRequirementStatusRepository) DeleteAllProjectStatuses(ctx context.Context, projectID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("project_id = ?", projectID).Delete(&models.ProjectRequirementComplianceStatus{}).Error
}
