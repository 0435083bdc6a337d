package entity

import (
	"gorm.io/datatypes"
)

// Signal is a synthesized, high-relevance artifact derived from one
// or more content items.
type Signal struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	SourceItemIDs  datatypes.JSON `gorm:"not null" json:"source_item_ids"`
	SourceName     string         `gorm:"index" json:"source_name"`
	Summary        string         `gorm:"not null" json:"summary"`
	Analysis       string         `json:"analysis"`
	FactCheck      string         `json:"fact_check,omitempty"`
	Sentiment      string         `gorm:"index" json:"sentiment"`
	RelevanceScore int            `json:"relevance_score"`
	Urgent         bool           `gorm:"index" json:"urgent"`
	Tickers        datatypes.JSON `json:"tickers"`
	Tags           datatypes.JSON `json:"tags"`
	Fingerprint    string         `gorm:"index;size:64" json:"-"`
	CreatedAt      int64          `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for the Signal model.
func (Signal) TableName() string {
	return "signals"
}
