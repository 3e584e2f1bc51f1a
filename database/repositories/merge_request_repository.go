// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"gorm.io/gorm"
)

type mergeRequestRepository struct {
	*GormRepository[uuid.UUID, models.MergeRequest]
	db *gorm.DB
}

func NewMergeRequestRepository(db *gorm.DB) *mergeRequestRepository {
	return &mergeRequestRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.MergeRequest](db),
	}
}

func (r *mergeRequestRepository) Read(id uuid.UUID) (models.MergeRequest, error) {
	var mergeRequest models.MergeRequest
	err := r.db.Preload("Project").First(&mergeRequest, "id = ?", id).Error
	return mergeRequest, err
}

// FindOpenForPipeline returns the open merge requests whose head pipeline is
// the pipeline or whose source branch head is the pipeline sha.
func (r *mergeRequestRepository) FindOpenForPipeline(ctx context.Context, pipeline models.Pipeline) ([]models.MergeRequest, error) {
	var mergeRequests []models.MergeRequest
	q := r.db.WithContext(ctx).Preload("Project").
		Where("project_id = ? AND state = ?", pipeline.ProjectID, models.MergeRequestStateOpened)
	if pipeline.MergeRequestID != nil {
		q = q.Where("id = ?", *pipeline.MergeRequestID)
	} else {
		q = q.Where("head_pipeline_id = ? OR (source_branch = ? AND diff_head_sha = ?)", pipeline.ID, pipeline.Ref, pipeline.SHA)
	}
	err := q.Order("iid ASC").Find(&mergeRequests).Error
	return mergeRequests, err
}

func (r *mergeRequestRepository) FindOpenByProject(ctx context.Context, projectID uuid.UUID) ([]models.MergeRequest, error) {
	var mergeRequests []models.MergeRequest
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND state = ?", projectID, models.MergeRequestStateOpened).
		Order("iid ASC").
		Find(&mergeRequests).Error
	return mergeRequests, err
}

func (r *mergeRequestRepository) FindOpenByTargetBranch(ctx context.Context, projectID uuid.UUID, targetBranch string) ([]models.MergeRequest, error) {
	var mergeRequests []models.MergeRequest
	err := r.db.WithContext(ctx).Preload("Project").
		Where("project_id = ? AND target_branch = ? AND state = ?", projectID, targetBranch, models.MergeRequestStateOpened).
		Order("iid ASC").
		Find(&mergeRequests).Error
	return mergeRequests, err
}

func (r *mergeRequestRepository) Commits(ctx context.Context, mergeRequestID uuid.UUID) ([]models.MergeRequestCommit, error) {
	var commits []models.MergeRequestCommit
	err := r.db.WithContext(ctx).Where("merge_request_id = ?", mergeRequestID).Order("created_at ASC").Find(&commits).Error
	return commits, err
}
