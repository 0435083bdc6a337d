package entity

import (
	"gorm.io/datatypes"
)

// Setting is a durable key/value pair, JSON-encoded.
type Setting struct {
	Key       string         `gorm:"primaryKey;size:64" json:"key"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt int64          `json:"updated_at"`
}

// TableName specifies the table name for the Setting model.
func (Setting) TableName() string {
	return "settings"
}
