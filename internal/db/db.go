// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023 Jacob McSwain
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

// Package db wires gorm to one of sqlite/postgres/mysql and supplies
// the CacheBlob-backed implementation of internal/cache.Persistence.
package db

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/cec-lip/lipd/internal/config"
	"github.com/cec-lip/lipd/internal/db/migration"
	"github.com/cec-lip/lipd/internal/db/models"
	"github.com/glebarez/sqlite"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	connsPerCPU = 10
	maxIdleTime = 10 * time.Minute
)

// MakeDB opens the configured database driver, traces it when OTLP is
// configured, and migrates the schema this daemon needs.
func MakeDB(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Metrics.OTLPEndpoint != "" {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to trace database: %w", err)
		}
	}

	if err := db.AutoMigrate(&models.CacheBlob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := migration.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run versioned migrations: %w", err)
	}

	if cfg.Database.Driver != config.DatabaseDriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxIdleConns(runtime.GOMAXPROCS(0))
		sqlDB.SetMaxOpenConns(runtime.GOMAXPROCS(0) * connsPerCPU)
		sqlDB.SetConnMaxIdleTime(maxIdleTime)
	}

	return db, nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.Database.Driver {
	case config.DatabaseDriverSQLite:
		return sqlite.Open(cfg.Database.Database), nil
	case config.DatabaseDriverPostgres:
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Database,
			cfg.Database.Username, cfg.Database.Password)
		if len(cfg.Database.ExtraParameters) > 0 {
			dsn += " " + strings.Join(cfg.Database.ExtraParameters, " ")
		}
		return postgres.Open(dsn), nil
	case config.DatabaseDriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		if len(cfg.Database.ExtraParameters) > 0 {
			dsn += "?" + strings.Join(cfg.Database.ExtraParameters, "&")
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
