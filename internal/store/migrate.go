package store

import (
	"content-refinery/internal/entity"

	"gorm.io/gorm"
)

// AutoMigrate creates the schema through gorm. Production deployments
// use the SQL migrations; this path serves sqlite-backed tests and
// first-run convenience.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.ContentItem{},
		&entity.Signal{},
		&entity.Channel{},
		&entity.InternalLog{},
		&entity.Setting{},
	)
}
