// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2024 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/USA-RedDragon/DMRHub>

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/cec-lip/lipd/internal/db/models"
	"gorm.io/gorm"
)

// Persistence adapts a *gorm.DB to internal/cache.Persistence: one row
// per downstream UUID the cache has ever been asked to persist.
type Persistence struct {
	db *gorm.DB
}

// NewPersistence wraps db as a cache.Persistence implementation.
func NewPersistence(db *gorm.DB) Persistence {
	return Persistence{db: db}
}

func (p Persistence) Store(ctx context.Context, uuid uint32, blob []byte) error {
	row := models.CacheBlob{NodeUUID: uuid, Data: blob}
	result := p.db.WithContext(ctx).
		Where(models.CacheBlob{NodeUUID: uuid}).
		Assign(models.CacheBlob{Data: blob}).
		FirstOrCreate(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to store cache blob for uuid %08x: %w", uuid, result.Error)
	}
	return nil
}

func (p Persistence) Load(ctx context.Context, uuid uint32) ([]byte, error) {
	var row models.CacheBlob
	result := p.db.WithContext(ctx).Where("node_uuid = ?", uuid).Limit(1).Find(&row)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load cache blob for uuid %08x: %w", uuid, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return row.Data, nil
}
