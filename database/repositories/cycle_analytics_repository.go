// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type stageRepository struct {
	*GormRepository[uuid.UUID, models.ValueStreamStage]
	db *gorm.DB
}

func NewStageRepository(db *gorm.DB) *stageRepository {
	return &stageRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.ValueStreamStage](db),
	}
}

func (r *stageRepository) FindByNamespace(ctx context.Context, namespaceID uuid.UUID) ([]models.ValueStreamStage, error) {
	return r.FindByNamespaces(ctx, []uuid.UUID{namespaceID})
}

func (r *stageRepository) FindByNamespaces(ctx context.Context, namespaceIDs []uuid.UUID) ([]models.ValueStreamStage, error) {
	if len(namespaceIDs) == 0 {
		return nil, nil
	}
	var stages []models.ValueStreamStage
	err := r.db.WithContext(ctx).Where("namespace_id IN ?", namespaceIDs).Order("created_at ASC, id ASC").Find(&stages).Error
	return stages, err
}

// issuableTable describes where the loader reads an issuable model from.
type issuableTable struct {
	name             string
	selects          string
	labelEventColumn string
}

var issuableTables = map[dtos.AnalyticsModel]issuableTable{
	dtos.AnalyticsModelIssue: {
		name:             "issues",
		selects:          "id, project_id, state, author_id, weight, created_at, updated_at, closed_at, NULL AS merged_at, first_assigned_at",
		labelEventColumn: "issue_id",
	},
	dtos.AnalyticsModelMergeRequest: {
		name:             "merge_requests",
		selects:          "id, project_id, state, author_id, weight, created_at, updated_at, closed_at, merged_at, NULL AS first_assigned_at",
		labelEventColumn: "merge_request_id",
	},
}

func tableFor(model dtos.AnalyticsModel) (issuableTable, error) {
	table, ok := issuableTables[model]
	if !ok {
		return issuableTable{}, shared.ErrUnsupportedModel
	}
	return table, nil
}

type issuableRepository struct {
	db *gorm.DB
}

func NewIssuableRepository(db *gorm.DB) *issuableRepository {
	return &issuableRepository{db: db}
}

func (r *issuableRepository) Batch(ctx context.Context, model dtos.AnalyticsModel, projectIDs []uuid.UUID, cursor *dtos.LoaderCursor, limit int) ([]models.IssuableRecord, error) {
	table, err := tableFor(model)
	if err != nil {
		return nil, err
	}
	if len(projectIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Table(table.name).Select(table.selects).Where("project_id IN ?", projectIDs)
	if cursor != nil {
		q = q.Where("(updated_at > ?) OR (updated_at = ? AND id > ?)", cursor.UpdatedAt, cursor.UpdatedAt, cursor.ID)
	}
	var records []models.IssuableRecord
	err = q.Order("updated_at ASC, id ASC").Limit(limit).Scan(&records).Error
	return records, err
}

func (r *issuableRepository) LabelEvents(ctx context.Context, model dtos.AnalyticsModel, issuableIDs []uuid.UUID, labelIDs []uuid.UUID) ([]models.ResourceLabelEvent, error) {
	table, err := tableFor(model)
	if err != nil {
		return nil, err
	}
	if len(issuableIDs) == 0 || len(labelIDs) == 0 {
		return nil, nil
	}
	var events []models.ResourceLabelEvent
	err = r.db.WithContext(ctx).
		Where(table.labelEventColumn+" IN ? AND label_id IN ?", issuableIDs, labelIDs).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

func (r *issuableRepository) ExistingIDs(ctx context.Context, model dtos.AnalyticsModel, issuableIDs []uuid.UUID) ([]uuid.UUID, error) {
	table, err := tableFor(model)
	if err != nil {
		return nil, err
	}
	if len(issuableIDs) == 0 {
		return nil, nil
	}
	var rows []struct{ ID uuid.UUID }
	err = r.db.WithContext(ctx).Table(table.name).Select("id").Where("id IN ?", issuableIDs).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return utils.Map(rows, func(row struct{ ID uuid.UUID }) uuid.UUID { return row.ID }), nil
}

type stageEventRepository struct {
	issueEvents        *GormRepository[int64, models.IssueStageEvent]
	mergeRequestEvents *GormRepository[int64, models.MergeRequestStageEvent]
	db                 *gorm.DB
}

func NewStageEventRepository(db *gorm.DB) *stageEventRepository {
	return &stageEventRepository{
		db:                 db,
		issueEvents:        newGormRepository[int64, models.IssueStageEvent](db),
		mergeRequestEvents: newGormRepository[int64, models.MergeRequestStageEvent](db),
	}
}

var stageEventConflictColumns = []clause.Column{{Name: "stage_event_hash_id"}, {Name: "issuable_id"}}

func (r *stageEventRepository) Upsert(ctx context.Context, model dtos.AnalyticsModel, events []models.StageEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx := r.db.WithContext(ctx)
	switch model {
	case dtos.AnalyticsModelIssue:
		rows := utils.Map(events, func(e models.StageEvent) *models.IssueStageEvent { return &models.IssueStageEvent{StageEvent: e} })
		return r.issueEvents.Upsert(tx, &rows, stageEventConflictColumns, nil)
	case dtos.AnalyticsModelMergeRequest:
		rows := utils.Map(events, func(e models.StageEvent) *models.MergeRequestStageEvent {
			return &models.MergeRequestStageEvent{StageEvent: e}
		})
		return r.mergeRequestEvents.Upsert(tx, &rows, stageEventConflictColumns, nil)
	}
	return shared.ErrUnsupportedModel
}

func (r *stageEventRepository) tableName(model dtos.AnalyticsModel) (string, error) {
	switch model {
	case dtos.AnalyticsModelIssue:
		return models.IssueStageEvent{}.TableName(), nil
	case dtos.AnalyticsModelMergeRequest:
		return models.MergeRequestStageEvent{}.TableName(), nil
	}
	return "", shared.ErrUnsupportedModel
}

func (r *stageEventRepository) Batch(ctx context.Context, model dtos.AnalyticsModel, stageEventHashID int64, groupIDs []uuid.UUID, afterIssuableID *uuid.UUID, limit int) ([]models.StageEvent, error) {
	table, err := r.tableName(model)
	if err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Table(table).Where("stage_event_hash_id = ?", stageEventHashID)
	if len(groupIDs) > 0 {
		q = q.Where("group_id IN ?", groupIDs)
	}
	if afterIssuableID != nil {
		q = q.Where("issuable_id > ?", *afterIssuableID)
	}
	var events []models.StageEvent
	err = q.Order("issuable_id ASC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *stageEventRepository) Delete(ctx context.Context, model dtos.AnalyticsModel, stageEventHashID int64, issuableIDs []uuid.UUID) (int64, error) {
	table, err := r.tableName(model)
	if err != nil {
		return 0, err
	}
	if len(issuableIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Table(table).
		Where("stage_event_hash_id = ? AND issuable_id IN ?", stageEventHashID, issuableIDs).
		Delete(&models.StageEvent{})
	return res.RowsAffected, res.Error
}
