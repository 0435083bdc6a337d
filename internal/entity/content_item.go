package entity

import (
	"gorm.io/datatypes"
)

// Content item signal states.
const (
	ItemFailed  = -1
	ItemPending = 0
	ItemSignal  = 1
)

// ContentItem is one normalized, scrubbed unit of raw text.
type ContentItem struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	SourceID        string         `gorm:"index" json:"source_id"`
	SourceName      string         `json:"source_name"`
	RawText         string         `gorm:"not null" json:"raw_text"`
	ContentHash     string         `gorm:"uniqueIndex;not null;size:64" json:"content_hash"`
	CreatedAt       int64          `gorm:"index" json:"created_at"`
	ProcessedJSON   datatypes.JSON `json:"processed_json,omitempty"`
	IsSignal        int            `gorm:"default:0" json:"is_signal"`
	LastAnalyzedAt  *int64         `json:"last_analyzed_at,omitempty"`
	RetryCount      int            `gorm:"default:0" json:"retry_count"`
	LastError       string         `json:"last_error,omitempty"`
	KnowledgeSynced bool           `gorm:"default:false" json:"knowledge_synced"`
}

// TableName specifies the table name for the ContentItem model.
func (ContentItem) TableName() string {
	return "content_items"
}
