package entity

import (
	"gorm.io/datatypes"
)

// InternalLog is an operational event persisted for the janitor-pruned
// audit trail.
type InternalLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Module    string         `gorm:"index" json:"module"`
	Message   string         `json:"message"`
	Context   datatypes.JSON `json:"context,omitempty"`
	CreatedAt int64          `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for the InternalLog model.
func (InternalLog) TableName() string {
	return "internal_logs"
}
