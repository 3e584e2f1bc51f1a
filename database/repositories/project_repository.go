// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"gorm.io/gorm"
)

type projectRepository struct {
	*GormRepository[uuid.UUID, models.Project]
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *projectRepository {
	return &projectRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.Project](db),
	}
}

func (r *projectRepository) Read(id uuid.UUID) (models.Project, error) {
	var project models.Project
	err := r.db.Preload("Namespace").First(&project, "id = ?", id).Error
	return project, err
}

func (r *projectRepository) ReadByFullPath(ctx context.Context, fullPath string) (models.Project, error) {
	var project models.Project
	err := r.db.WithContext(ctx).Preload("Namespace").Where("full_path = ?", fullPath).First(&project).Error
	return project, err
}

func (r *projectRepository) FindByNamespaces(ctx context.Context, namespaceIDs []uuid.UUID) ([]models.Project, error) {
	if len(namespaceIDs) == 0 {
		return nil, nil
	}
	var projects []models.Project
	err := r.db.WithContext(ctx).Preload("Namespace").Where("namespace_id IN ?", namespaceIDs).Order("id ASC").Find(&projects).Error
	return projects, err
}
