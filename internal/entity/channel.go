package entity

// Channel is a known upstream source.
type Channel struct {
	ID               string `gorm:"primaryKey;size:36" json:"id"`
	Name             string `gorm:"not null" json:"name"`
	Type             string `gorm:"index;not null" json:"type"`
	FeedURL          string `gorm:"index" json:"feed_url,omitempty"`
	LastPolledAt     *int64 `json:"last_polled_at,omitempty"`
	SuccessCount     int64  `gorm:"default:0" json:"success_count"`
	FailureCount     int64  `gorm:"default:0" json:"failure_count"`
	Status           string `gorm:"default:active" json:"status"`
	FetchFullContent bool   `gorm:"default:false" json:"fetch_full_content"`
	CreatedAt        int64  `json:"created_at"`
}

// TableName specifies the table name for the Channel model.
func (Channel) TableName() string {
	return "channels"
}
