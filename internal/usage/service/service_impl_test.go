package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/snapmeta-ai/snapmeta/internal/clock"
	"github.com/snapmeta-ai/snapmeta/internal/identity"
	usagedomain "github.com/snapmeta-ai/snapmeta/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (usagedomain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	return svc, clk, db
}

var seedNode, _ = snowflake.NewNode(2)

func seedRecord(t *testing.T, db *gorm.DB, userID, modelName string, count int64, ts time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&usagedomain.UsageRecord{
		ID:         seedNode.Generate(),
		UserID:     userID,
		ModelName:  modelName,
		ImageCount: count,
		UsageDate:  ts.UTC().Format(usagedomain.UsageDateLayout),
		Timestamp:  ts.UnixMilli(),
	}).Error)
}

func TestRecord_MergesSameDay(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.Record(ctx, usagedomain.RecordUsageRequest{
		ModelName:  "caption-v2",
		ImageCount: 5,
		UserID:     "u1",
	})
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)

	second, err := svc.Record(ctx, usagedomain.RecordUsageRequest{
		ModelName:  "caption-v2",
		ImageCount: 3,
		UserID:     "u1",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same-day ingest must merge, not append")
	assert.EqualValues(t, 8, second.ImageCount)
	assert.Equal(t, clk.Now().UnixMilli(), second.Timestamp, "merge refreshes the timestamp")

	var count int64
	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecord_MergesIntoExistingRow(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()

	// A row for today's triple already exists, as after losing an insert
	// race: the ingest must accumulate into it, not duplicate or clobber.
	seedRecord(t, db, "u1", "caption-v2", 5, clk.Now().Add(-time.Hour))

	var existing usagedomain.UsageRecord
	require.NoError(t, db.Where("user_id = ?", "u1").First(&existing).Error)

	merged, err := svc.Record(ctx, usagedomain.RecordUsageRequest{
		ModelName:  "caption-v2",
		ImageCount: 3,
		UserID:     "u1",
	})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, merged.ID, "existing row keeps its identity")
	assert.EqualValues(t, 8, merged.ImageCount)
	assert.Equal(t, clk.Now().UnixMilli(), merged.Timestamp)

	var count int64
	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecord_PerDayIsolation(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, usagedomain.RecordUsageRequest{ModelName: "caption-v2", ImageCount: 5, UserID: "u1"})
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)

	_, err = svc.Record(ctx, usagedomain.RecordUsageRequest{ModelName: "caption-v2", ImageCount: 7, UserID: "u1"})
	require.NoError(t, err)

	var records []usagedomain.UsageRecord
	require.NoError(t, db.Order("usage_date").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Equal(t, "2024-05-10", records[0].UsageDate)
	assert.EqualValues(t, 5, records[0].ImageCount)
	assert.Equal(t, "2024-05-11", records[1].UsageDate)
	assert.EqualValues(t, 7, records[1].ImageCount)
}

func TestRecord_Validation(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		req         usagedomain.RecordUsageRequest
		expectedErr error
	}{
		{
			name:        "empty model name",
			req:         usagedomain.RecordUsageRequest{ModelName: "", ImageCount: 5, UserID: "u1"},
			expectedErr: usagedomain.ErrInvalidModelName,
		},
		{
			name:        "whitespace model name",
			req:         usagedomain.RecordUsageRequest{ModelName: "   ", ImageCount: 5, UserID: "u1"},
			expectedErr: usagedomain.ErrInvalidModelName,
		},
		{
			name:        "zero image count",
			req:         usagedomain.RecordUsageRequest{ModelName: "caption-v2", ImageCount: 0, UserID: "u1"},
			expectedErr: usagedomain.ErrInvalidImageCount,
		},
		{
			name:        "negative image count",
			req:         usagedomain.RecordUsageRequest{ModelName: "caption-v2", ImageCount: -3, UserID: "u1"},
			expectedErr: usagedomain.ErrInvalidImageCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := svc.Record(ctx, tt.req)
			assert.ErrorIs(t, err, tt.expectedErr)
			assert.Nil(t, record)
		})
	}

	var count int64
	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.EqualValues(t, 0, count, "rejected ingest must write nothing")
}

func TestRecord_IdentityResolution(t *testing.T) {
	svc, _, _ := newTestService(t)

	// Context subject when no explicit argument.
	ctx := identity.WithSubject(context.Background(), "user_ctx1")
	record, err := svc.Record(ctx, usagedomain.RecordUsageRequest{ModelName: "caption-v2", ImageCount: 2})
	require.NoError(t, err)
	assert.Equal(t, "user_ctx1", record.UserID)

	// Explicit argument wins over the context subject.
	record, err = svc.Record(ctx, usagedomain.RecordUsageRequest{ModelName: "caption-v2", ImageCount: 2, UserID: "u_explicit"})
	require.NoError(t, err)
	assert.Equal(t, "u_explicit", record.UserID)

	// Sentinel when nothing is available.
	record, err = svc.Record(context.Background(), usagedomain.RecordUsageRequest{ModelName: "caption-v2", ImageCount: 2})
	require.NoError(t, err)
	assert.Equal(t, identity.DefaultSubject, record.UserID)
}

func TestRecentUsage_WindowBoundary(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()

	cutoff := clk.Now().Add(-usagedomain.RecentWindow)

	seedRecord(t, db, "u1", "caption-v2", 5, cutoff.Add(time.Millisecond)) // just inside
	seedRecord(t, db, "u2", "caption-v2", 7, cutoff)                      // exactly at cutoff: excluded
	seedRecord(t, db, "u3", "caption-v2", 9, cutoff.Add(-time.Hour))      // outside

	records, err := svc.RecentUsage(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1, "strict > comparison on the 30-day cutoff")
	assert.Equal(t, "u1", records[0].UserID)

	result, err := svc.UserRecentUsage(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, result.Records)

	assert.EqualValues(t, 5, svc.CurrentImageCount(ctx, "u1"))
	assert.EqualValues(t, 0, svc.CurrentImageCount(ctx, "u2"))
}

func TestUserRecentUsage_Reconciliation(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()
	now := clk.Now()

	seedRecord(t, db, "abc123", "caption-v2", 5, now.Add(-time.Hour))
	seedRecord(t, db, "user_def456", "tagger-v1", 3, now.Add(-time.Hour))

	// Exact match: no message.
	result, err := svc.UserRecentUsage(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Empty(t, result.Message)

	// Prefixed query matches the bare stored form via the stripped variant.
	result, err = svc.UserRecentUsage(ctx, "user_abc123")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "abc123", result.Records[0].UserID)
	assert.NotEmpty(t, result.Message)

	// Bare query matches the prefixed stored form via the prefixed variant.
	result, err = svc.UserRecentUsage(ctx, "def456")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "user_def456", result.Records[0].UserID)
	assert.NotEmpty(t, result.Message)

	// Exhausted search: empty result with a marker, no fabricated rows.
	result, err = svc.UserRecentUsage(ctx, "user_nobody")
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.NotEmpty(t, result.Message)
}

func TestDailyUserUsage(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()
	now := clk.Now()

	seedRecord(t, db, "u1", "caption-v2", 5, now.AddDate(0, 0, -2))
	seedRecord(t, db, "u1", "tagger-v1", 3, now.AddDate(0, 0, -2))
	seedRecord(t, db, "u1", "caption-v2", 4, now.AddDate(0, 0, -1))
	seedRecord(t, db, "u2", "caption-v2", 9, now.AddDate(0, 0, -1))

	daily, err := svc.DailyUserUsage(ctx, "u1", usagedomain.DateRange{})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.EqualValues(t, 5, daily["2024-05-08"]["caption-v2"])
	assert.EqualValues(t, 3, daily["2024-05-08"]["tagger-v1"])
	assert.EqualValues(t, 4, daily["2024-05-09"]["caption-v2"])

	// Inclusive date range narrows to one day.
	daily, err = svc.DailyUserUsage(ctx, "u1", usagedomain.DateRange{
		StartDate: "2024-05-09",
		EndDate:   "2024-05-09",
	})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.EqualValues(t, 4, daily["2024-05-09"]["caption-v2"])
}

func TestModelUsageStats(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()
	now := clk.Now()

	seedRecord(t, db, "u1", "caption-v2", 5, now.Add(-time.Hour))
	seedRecord(t, db, "u2", "caption-v2", 3, now.Add(-time.Hour))
	seedRecord(t, db, "u1", "tagger-v1", 10, now.Add(-time.Hour))

	stats, err := svc.ModelUsageStats(ctx, usagedomain.DateRange{})
	require.NoError(t, err)
	require.Len(t, stats, 2)

	caption := stats["caption-v2"]
	assert.EqualValues(t, 8, caption.TotalUsage)
	assert.ElementsMatch(t, []string{"u1", "u2"}, caption.UniqueUsers)
	assert.EqualValues(t, 8, caption.DailyUsage["2024-05-10"])

	tagger := stats["tagger-v1"]
	assert.EqualValues(t, 10, tagger.TotalUsage)
	assert.ElementsMatch(t, []string{"u1"}, tagger.UniqueUsers)

	// Date range excludes everything.
	stats, err = svc.ModelUsageStats(ctx, usagedomain.DateRange{StartDate: "2024-06-01"})
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestClear_IsTotal(t *testing.T) {
	svc, clk, db := newTestService(t)
	ctx := context.Background()

	seedRecord(t, db, "u1", "caption-v2", 5, clk.Now().Add(-time.Hour))
	seedRecord(t, db, "u2", "tagger-v1", 3, clk.Now().Add(-time.Hour))

	require.NoError(t, svc.Clear(ctx))

	records, err := svc.RecentUsage(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.EqualValues(t, 0, svc.CurrentImageCount(ctx, "u1"))

	daily, err := svc.DailyUserUsage(ctx, "u1", usagedomain.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, daily)
}

func TestCurrentImageCount_StorageFailure(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.EqualValues(t, 0, svc.CurrentImageCount(ctx, "u1"), "storage failure collapses to 0")
}
