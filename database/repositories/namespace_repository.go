// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"gorm.io/gorm"
)

type namespaceRepository struct {
	*GormRepository[uuid.UUID, models.Namespace]
	db *gorm.DB
}

func NewNamespaceRepository(db *gorm.DB) *namespaceRepository {
	return &namespaceRepository{
		db:             db,
		GormRepository: newGormRepository[uuid.UUID, models.Namespace](db),
	}
}

func (r *namespaceRepository) Hierarchy(ctx context.Context, namespace models.Namespace) ([]models.Namespace, error) {
	var namespaces []models.Namespace
	err := r.db.WithContext(ctx).
		Where("traversal_path = ? OR traversal_path LIKE ?", namespace.TraversalPath, namespace.TraversalPath+"/%").
		Order("traversal_path ASC").
		Find(&namespaces).Error
	return namespaces, err
}

func (r *namespaceRepository) RootGroups(ctx context.Context) ([]models.Namespace, error) {
	var namespaces []models.Namespace
	err := r.db.WithContext(ctx).
		Where("parent_id IS NULL AND type = ?", models.NamespaceTypeGroup).
		Order("created_at ASC").
		Find(&namespaces).Error
	return namespaces, err
}
