// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"gorm.io/gorm"
)

type pipelineRepository struct {
	*GormRepository[uuid.UUID, models.Pipeline]
	db *gorm.DB
}

func NewPipelineRepository(db *gorm.DB) *pipelineRepository {
	return &pipelineRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.Pipeline](db),
	}
}

func (r *pipelineRepository) Related(ctx context.Context, pipeline models.Pipeline) ([]models.Pipeline, error) {
	var pipelines []models.Pipeline
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND ref = ? AND sha = ? AND id <> ?", pipeline.ProjectID, pipeline.Ref, pipeline.SHA, pipeline.ID).
		Order("created_at ASC").
		Find(&pipelines).Error
	return pipelines, err
}

func (r *pipelineRepository) CanStoreSecurityReports(ctx context.Context, pipelineIDs []uuid.UUID) (bool, error) {
	if len(pipelineIDs) == 0 {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SecurityScan{}).
		Where("pipeline_id IN ? AND status = ?", pipelineIDs, models.ScanStatusSucceeded).
		Count(&count).Error
	return count > 0, err
}

func (r *pipelineRepository) LatestWithSecurityReports(ctx context.Context, projectID uuid.UUID, ref string, sha *string) (models.Pipeline, error) {
	var pipeline models.Pipeline
	q := r.db.WithContext(ctx).
		Where("project_id = ? AND ref = ?", projectID, ref).
		Where("EXISTS (SELECT 1 FROM security_scans WHERE security_scans.pipeline_id = pipelines.id AND security_scans.status = ?)", models.ScanStatusSucceeded)
	if sha != nil {
		q = q.Where("sha = ?", *sha)
	}
	err := q.Order("created_at DESC").First(&pipeline).Error
	return pipeline, err
}

func (r *pipelineRepository) LatestForRef(ctx context.Context, projectID uuid.UUID, ref string) (models.Pipeline, error) {
	var pipeline models.Pipeline
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND ref = ?", projectID, ref).
		Order("created_at DESC").
		First(&pipeline).Error
	return pipeline, err
}

type findingRepository struct {
	db *gorm.DB
}

func NewFindingRepository(db *gorm.DB) *findingRepository {
	return &findingRepository{db: db}
}

func (r *findingRepository) FindByPipelines(ctx context.Context, pipelineIDs []uuid.UUID, filter dtos.FindingFilter) ([]models.Finding, error) {
	if len(pipelineIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Model(&models.Finding{}).
		Joins("JOIN security_scans ON security_scans.id = findings.scan_id").
		Where("findings.pipeline_id IN ? AND security_scans.status = ?", pipelineIDs, models.ScanStatusSucceeded)
	if len(filter.Scanners) > 0 {
		q = q.Where("findings.report_type IN ?", filter.Scanners)
	}
	if len(filter.SeverityLevels) > 0 {
		q = q.Where("findings.severity IN ?", filter.SeverityLevels)
	}
	if filter.FixAvailable != nil {
		q = q.Where("findings.fix_available = ?", *filter.FixAvailable)
	}
	if filter.FalsePositive != nil {
		q = q.Where("findings.false_positive = ?", *filter.FalsePositive)
	}
	if len(filter.UUIDs) > 0 {
		q = q.Where("findings.uuid IN ?", filter.UUIDs)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var findings []models.Finding
	err := q.Select("findings.*").Order("findings.created_at ASC, findings.id ASC").Find(&findings).Error
	return findings, err
}

func (r *findingRepository) ScanTypes(ctx context.Context, pipelineIDs []uuid.UUID) ([]dtos.ScanType, error) {
	if len(pipelineIDs) == 0 {
		return nil, nil
	}
	var scanTypes []dtos.ScanType
	err := r.db.WithContext(ctx).Model(&models.SecurityScan{}).
		Where("pipeline_id IN ? AND status = ?", pipelineIDs, models.ScanStatusSucceeded).
		Distinct().
		Order("scan_type ASC").
		Pluck("scan_type", &scanTypes).Error
	return scanTypes, err
}

func (r *findingRepository) Dependencies(ctx context.Context, pipelineIDs []uuid.UUID) ([]models.PipelineDependency, error) {
	if len(pipelineIDs) == 0 {
		return nil, nil
	}
	var dependencies []models.PipelineDependency
	err := r.db.WithContext(ctx).Where("pipeline_id IN ?", pipelineIDs).Order("name ASC").Find(&dependencies).Error
	return dependencies, err
}

type vulnerabilityRepository struct {
	*GormRepository[uuid.UUID, models.Vulnerability]
	db *gorm.DB
}

func NewVulnerabilityRepository(db *gorm.DB) *vulnerabilityRepository {
	return &vulnerabilityRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.Vulnerability](db),
	}
}

func (r *vulnerabilityRepository) FindByUUIDs(ctx context.Context, projectID uuid.UUID, uuids []string) ([]models.Vulnerability, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var vulnerabilities []models.Vulnerability
	err := r.db.WithContext(ctx).Where("project_id = ? AND uuid IN ?", projectID, uuids).Find(&vulnerabilities).Error
	return vulnerabilities, err
}

func (r *vulnerabilityRepository) FindByStates(ctx context.Context, projectID uuid.UUID, states []dtos.VulnerabilityState, severities []dtos.Severity, reportTypes []dtos.ScanType, limit int) ([]models.Vulnerability, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Vulnerability{}).Where("project_id = ? AND state IN ?", projectID, states)
	if len(severities) > 0 {
		q = q.Where("severity IN ?", severities)
	}
	if len(reportTypes) > 0 {
		q = q.Where("report_type IN ?", reportTypes)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var vulnerabilities []models.Vulnerability
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("created_at ASC, id ASC").Find(&vulnerabilities).Error
	return vulnerabilities, total, err
}
