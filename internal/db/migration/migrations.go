// Package migration versions the schema internal/db needs beyond a
// plain AutoMigrate, mirroring the teacher's internal/db/migration.
package migration

import (
	"github.com/cec-lip/lipd/internal/db/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate applies every versioned schema change to db, in order. It is
// run once at startup, right after models.CacheBlob's AutoMigrate in
// MakeDB, so the table already exists when it runs.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// lip_cache_blobs gained an explicit node_uuid index once
		// deployments started running more than a handful of
		// downstream identities through a single node (a hub whose
		// downstream is swapped repeatedly accumulates one row per
		// identity ever seen).
		{
			ID: "202601010000",
			Migrate: func(tx *gorm.DB) error {
				if !tx.Migrator().HasTable(&models.CacheBlob{}) {
					return nil
				}
				if tx.Migrator().HasIndex(&models.CacheBlob{}, "idx_lip_cache_blobs_node_uuid") {
					return nil
				}
				return tx.Migrator().CreateIndex(&models.CacheBlob{}, "NodeUUID")
			},
			Rollback: func(tx *gorm.DB) error {
				if !tx.Migrator().HasTable(&models.CacheBlob{}) {
					return nil
				}
				return tx.Migrator().DropIndex(&models.CacheBlob{}, "NodeUUID")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return err //nolint:wrapcheck
	}
	return nil
}
