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

// Package models holds the gorm-backed persistence rows for internal/db.
package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CacheBlob is the single persisted row backing a node's latency cache
// (internal/cache's Persistence collaborator): an xz-compressed,
// msgp-encoded snapshot keyed by the downstream UUID it was captured
// under, so a restart can restore the cache without a fresh round of
// downstream queries as long as the UUID hasn't changed underneath it.
type CacheBlob struct {
	ID        uint `gorm:"primarykey"`
	NodeUUID  uint32 `gorm:"index"`
	Data      []byte `gorm:"type:blob"`
	UpdatedAt time.Time
}

// TableName pins the table name so it doesn't pluralize into something
// that reads oddly next to the rest of this schema.
func (CacheBlob) TableName() string {
	return "lip_cache_blobs"
}

// PruneStaleCacheBlobs deletes every cache blob last updated before
// cutoff. A hub that has been relocated behind several different
// downstream devices over its lifetime otherwise accumulates one row
// per identity it has ever seen, per §4.2's store-under-old-UUID
// rotation; nothing ever deletes the old rows on its own.
func PruneStaleCacheBlobs(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Where("updated_at < ?", cutoff).Delete(&CacheBlob{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune stale cache blobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
