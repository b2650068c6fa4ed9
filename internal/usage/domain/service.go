package domain

import (
	"context"
	"errors"
)

type RecordUsageRequest struct {
	ModelName  string `json:"modelName"`
	ImageCount int64  `json:"imageCount"`
	UserID     string `json:"userId"`
}

// UserRecentUsageResult carries a reconciliation lookup's outcome.
// Message is set when a fallback identifier variant matched, or when the
// search exhausted every variant, so the dashboard can mark the result
// as non-authoritative.
type UserRecentUsageResult struct {
	Records []UsageRecord
	Message string
}

// DailyUsage maps usage date -> model name -> summed image count.
type DailyUsage map[string]map[string]int64

// ModelStats aggregates one model across the ledger.
type ModelStats struct {
	TotalUsage  int64            `json:"totalUsage"`
	UniqueUsers []string         `json:"uniqueUsers"`
	DailyUsage  map[string]int64 `json:"dailyUsage"`
}

// DateRange is an optional inclusive [StartDate, EndDate] filter on
// usage dates. Empty bounds are open.
type DateRange struct {
	StartDate string
	EndDate   string
}

type Service interface {
	// Record merges one usage event into the (user, model, day) row.
	Record(ctx context.Context, req RecordUsageRequest) (*UsageRecord, error)

	// RecentUsage returns every record inside the trailing window.
	RecentUsage(ctx context.Context) ([]UsageRecord, error)

	// UserRecentUsage returns one user's records inside the trailing
	// window, trying identifier variants in order.
	UserRecentUsage(ctx context.Context, userID string) (UserRecentUsageResult, error)

	// CurrentImageCount sums the user's window. It never fails: storage
	// errors collapse to 0 because the result feeds a billing-limit
	// comparison that must always produce a number.
	CurrentImageCount(ctx context.Context, userID string) int64

	// DailyUserUsage groups a user's records by date then model.
	DailyUserUsage(ctx context.Context, userID string, r DateRange) (DailyUsage, error)

	// ModelUsageStats aggregates the whole ledger per model.
	ModelUsageStats(ctx context.Context, r DateRange) (map[string]ModelStats, error)

	// Clear deletes every record. Development and test environments only.
	Clear(ctx context.Context) error
}

var (
	ErrInvalidModelName  = errors.New("invalid_model_name")
	ErrInvalidImageCount = errors.New("invalid_image_count")
)
