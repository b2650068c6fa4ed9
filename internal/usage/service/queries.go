package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/snapmeta-ai/snapmeta/internal/identity"
	usagedomain "github.com/snapmeta-ai/snapmeta/internal/usage/domain"
	"go.uber.org/zap"
)

func (s *Service) RecentUsage(ctx context.Context) ([]usagedomain.UsageRecord, error) {
	records := []usagedomain.UsageRecord{}
	err := s.db.WithContext(ctx).
		Where("timestamp > ?", s.recentCutoff()).
		Find(&records).Error
	if err != nil {
		s.metrics.RecordQueryError("recent-usage")
		s.log.Error("recent usage query failed", zap.Error(err))
		return nil, err
	}
	return records, nil
}

func (s *Service) UserRecentUsage(ctx context.Context, userID string) (usagedomain.UserRecentUsageResult, error) {
	result := usagedomain.UserRecentUsageResult{Records: []usagedomain.UsageRecord{}}
	cutoff := s.recentCutoff()

	// Reconciliation search: the identifier the dashboard presents may be
	// the prefixed or bare variant of the identity stored at ingest time.
	// Short-circuit on the first variant that yields rows.
	for i, candidate := range identity.Candidates(userID) {
		records, err := s.findUserRecent(ctx, candidate, cutoff)
		if err != nil {
			s.metrics.RecordQueryError("user-recent-usage")
			s.log.Error("user recent usage query failed",
				zap.String("user_id", candidate),
				zap.Error(err),
			)
			return usagedomain.UserRecentUsageResult{}, err
		}
		if len(records) > 0 {
			result.Records = records
			if i > 0 {
				result.Message = fmt.Sprintf("matched records stored under identifier %q", candidate)
			}
			return result, nil
		}
	}

	// Every variant came up empty. Surface what identities the ledger
	// does hold at debug level, then report an empty, marked result.
	// Fabricating placeholder rows here is deliberately not done.
	var stored []string
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("timestamp > ?", cutoff).
		Distinct("user_id").
		Pluck("user_id", &stored).Error
	if err != nil {
		s.metrics.RecordQueryError("user-recent-usage")
		return usagedomain.UserRecentUsageResult{}, err
	}
	if len(stored) > 0 {
		s.log.Debug("no records for requested user",
			zap.String("user_id", userID),
			zap.Strings("stored_identifiers", stored),
		)
	}

	result.Message = "no recent usage recorded for this user"
	return result, nil
}

func (s *Service) findUserRecent(ctx context.Context, userID string, cutoff int64) ([]usagedomain.UsageRecord, error) {
	var records []usagedomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp > ?", userID, cutoff).
		Find(&records).Error
	return records, err
}

// CurrentImageCount is strict: exact identifier match, no reconciliation.
func (s *Service) CurrentImageCount(ctx context.Context, userID string) int64 {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("user_id = ? AND timestamp > ?", userID, s.recentCutoff()).
		Select("COALESCE(SUM(image_count), 0)").
		Scan(&total).Error
	if err != nil {
		s.metrics.RecordQueryError("current-image-count")
		s.log.Warn("current image count query failed, returning 0",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0
	}
	return total
}

func (s *Service) DailyUserUsage(ctx context.Context, userID string, r usagedomain.DateRange) (usagedomain.DailyUsage, error) {
	stmt := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if r.StartDate != "" {
		stmt = stmt.Where("usage_date >= ?", r.StartDate)
	}
	if r.EndDate != "" {
		stmt = stmt.Where("usage_date <= ?", r.EndDate)
	}

	var records []usagedomain.UsageRecord
	if err := stmt.Find(&records).Error; err != nil {
		s.metrics.RecordQueryError("daily-user-usage")
		s.log.Error("daily user usage query failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, err
	}

	daily := make(usagedomain.DailyUsage)
	for _, record := range records {
		models := daily[record.UsageDate]
		if models == nil {
			models = make(map[string]int64)
			daily[record.UsageDate] = models
		}
		models[record.ModelName] += record.ImageCount
	}
	return daily, nil
}

func (s *Service) ModelUsageStats(ctx context.Context, r usagedomain.DateRange) (map[string]usagedomain.ModelStats, error) {
	stmt := s.db.WithContext(ctx)
	if r.StartDate != "" {
		stmt = stmt.Where("usage_date >= ?", r.StartDate)
	}
	if r.EndDate != "" {
		stmt = stmt.Where("usage_date <= ?", r.EndDate)
	}

	var records []usagedomain.UsageRecord
	if err := stmt.Find(&records).Error; err != nil {
		s.metrics.RecordQueryError("model-usage-stats")
		s.log.Error("model usage stats query failed", zap.Error(err))
		return nil, err
	}

	type accumulator struct {
		total int64
		users map[string]struct{}
		daily map[string]int64
	}

	acc := make(map[string]*accumulator)
	for _, record := range records {
		a := acc[record.ModelName]
		if a == nil {
			a = &accumulator{
				users: make(map[string]struct{}),
				daily: make(map[string]int64),
			}
			acc[record.ModelName] = a
		}
		a.total += record.ImageCount
		a.users[record.UserID] = struct{}{}
		a.daily[record.UsageDate] += record.ImageCount
	}

	// Distinct users live in a set during aggregation and become an
	// ordered list only at the serialization boundary.
	stats := make(map[string]usagedomain.ModelStats, len(acc))
	for model, a := range acc {
		users := make([]string, 0, len(a.users))
		for user := range a.users {
			users = append(users, user)
		}
		sort.Strings(users)
		stats[model] = usagedomain.ModelStats{
			TotalUsage:  a.total,
			UniqueUsers: users,
			DailyUsage:  a.daily,
		}
	}
	return stats, nil
}
