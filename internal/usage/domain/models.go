// Package domain contains the ledger model and service contract for
// per-user, per-model, per-day image-processing usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RecentWindow is the trailing billing-period window for "recent"
// queries and the current-period count.
const RecentWindow = 30 * 24 * time.Hour

// UsageDateLayout is the calendar-day aggregation key format. Fixed
// width and zero padded, so date ranges compare lexicographically.
const UsageDateLayout = "2006-01-02"

// UsageRecord accumulates one user's image count for one model on one
// calendar day. At most one row exists per (user, model, day); ingest
// merges into the existing row instead of appending events.
type UsageRecord struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     string       `gorm:"type:text;not null;index:idx_usage_records_user;uniqueIndex:ux_usage_records_user_model_date,priority:1" json:"userId"`
	ModelName  string       `gorm:"type:text;not null;index:idx_usage_records_model;uniqueIndex:ux_usage_records_user_model_date,priority:2" json:"modelName"`
	ImageCount int64        `gorm:"not null" json:"imageCount"`
	UsageDate  string       `gorm:"type:text;not null;uniqueIndex:ux_usage_records_user_model_date,priority:3" json:"usageDate"`
	Timestamp  int64        `gorm:"not null;index:idx_usage_records_timestamp" json:"timestamp"` // ms since epoch, last update
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
