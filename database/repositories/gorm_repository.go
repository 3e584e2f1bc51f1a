// Copyright (C) 2025 l3montree GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package repositories

import (
	"log/slog"

	"github.com/l3montree-dev/devguard-policy/database"
	"github.com/l3montree-dev/devguard-policy/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postgres limits a single statement to 65535 bind parameters
const maxBatchParams = 65535

type GormRepository[ID comparable, T utils.Tabler] struct {
	db *gorm.DB
}

func newGormRepository[ID comparable, T utils.Tabler](db *gorm.DB) *GormRepository[ID, T] {
	return &GormRepository[ID, T]{
		db: db,
	}
}

func (g *GormRepository[ID, T]) All() ([]T, error) {
	var ts []T
	err := g.db.Find(&ts).Error
	return ts, err
}

func (g *GormRepository[ID, T]) Save(tx *gorm.DB, t *T) error {
	return g.GetDB(tx).Save(t).Error
}

func (g *GormRepository[ID, T]) Upsert(tx *gorm.DB, t *[]*T, conflictingColumns []clause.Column, updateOnly []string) error {
	if len(*t) == 0 {
		return nil
	}
	onConflict := clause.OnConflict{Columns: conflictingColumns}
	if len(updateOnly) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateOnly)
	} else {
		onConflict.UpdateAll = true
	}
	return g.GetDB(tx).Clauses(onConflict).Create(t).Error
}

// CreateBatch ignores rows which already exist.
func (g *GormRepository[ID, T]) CreateBatch(tx *gorm.DB, ts []T) error {
	if len(ts) == 0 {
		return nil
	}
	return g.GetDB(tx).Clauses(clause.OnConflict{DoNothing: true}).Create(ts).Error
}

func (g *GormRepository[ID, T]) SaveBatch(tx *gorm.DB, ts []T) error {
	if len(ts) == 0 {
		return nil
	}

	err := g.GetDB(tx).Save(ts).Error
	if err != nil && err.Error() == "extended protocol limited to 65535 parameters" && len(ts) > 1 {
		slog.Debug("splitting batch", "size", len(ts), "maxParams", maxBatchParams)
		half := len(ts) / 2
		if err := g.SaveBatch(tx, ts[:half]); err != nil {
			return err
		}
		return g.SaveBatch(tx, ts[half:])
	}
	return err
}

func (g *GormRepository[ID, T]) Transaction(f func(tx *gorm.DB) error) error {
	return g.db.Transaction(f)
}

func (g *GormRepository[ID, T]) GetDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return g.db
}

func (g *GormRepository[ID, T]) Create(tx *gorm.DB, t *T) error {
	return g.GetDB(tx).Create(t).Error
}

func (g *GormRepository[ID, T]) Read(id ID) (T, error) {
	var t T
	err := g.db.First(&t, "id = ?", id).Error
	return t, err
}

func (g *GormRepository[ID, T]) Delete(tx *gorm.DB, id ID) error {
	var t T
	return g.GetDB(tx).Delete(&t, "id = ?", id).Error
}

func (g *GormRepository[ID, T]) List(ids []ID) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	var ts []T
	err := g.db.Where("id IN ?", ids).Find(&ts).Error
	return ts, err
}

// createOrFind inserts t and ignores a conflict on the given columns. On a
// conflict the winning row is loaded through find. Unique violations on any
// other constraint are returned unchanged.
func createOrFind[T any](db *gorm.DB, t *T, conflictColumns []clause.Column, constraint string, find func(db *gorm.DB) (T, error)) (T, error) {
	res := db.Clauses(clause.OnConflict{Columns: conflictColumns, DoNothing: true}).Create(t)
	if res.Error != nil {
		if database.IsUniqueViolationOn(res.Error, constraint) {
			return find(db)
		}
		return *t, res.Error
	}
	if res.RowsAffected == 0 {
		return find(db)
	}
	return *t, nil
}
