package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/snapmeta-ai/snapmeta/internal/clock"
	"github.com/snapmeta-ai/snapmeta/internal/identity"
	"github.com/snapmeta-ai/snapmeta/internal/metrics"
	usagedomain "github.com/snapmeta-ai/snapmeta/internal/usage/domain"
	"github.com/snapmeta-ai/snapmeta/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Record(
	ctx context.Context,
	req usagedomain.RecordUsageRequest,
) (*usagedomain.UsageRecord, error) {

	modelName := strings.TrimSpace(req.ModelName)
	if modelName == "" {
		s.metrics.RecordIngest("unknown", "rejected")
		return nil, usagedomain.ErrInvalidModelName
	}
	if req.ImageCount <= 0 {
		s.metrics.RecordIngest(modelName, "rejected")
		return nil, usagedomain.ErrInvalidImageCount
	}

	userID := identity.Resolve(ctx, req.UserID)
	now := s.clock.Now()
	usageDate := now.Format(usagedomain.UsageDateLayout)

	record := &usagedomain.UsageRecord{
		ID:         s.genID.Generate(),
		UserID:     userID,
		ModelName:  modelName,
		ImageCount: req.ImageCount,
		UsageDate:  usageDate,
		Timestamp:  now.UnixMilli(),
	}

	if err := s.mergeUsageRecord(ctx, record); err != nil {
		s.metrics.RecordIngest(modelName, "error")
		s.log.Error("usage merge failed",
			zap.String("user_id", userID),
			zap.String("model_name", modelName),
			zap.Error(err),
		)
		return nil, err
	}

	// The insert may have merged into an existing row for the triple;
	// re-read so the caller gets the authoritative identity and count.
	stored, err := s.findByTriple(ctx, userID, modelName, usageDate)
	if err != nil {
		s.metrics.RecordIngest(modelName, "error")
		return nil, err
	}

	s.metrics.RecordIngest(modelName, "accepted")
	return stored, nil
}

// mergeUsageRecord inserts the day row, or accumulates into the existing
// one when the unique (user_id, model_name, usage_date) index reports it
// is already there. A racing insert for the same triple surfaces as a
// duplicate key error and falls through to the additive update, which is
// a single atomic statement.
func (s *Service) mergeUsageRecord(ctx context.Context, record *usagedomain.UsageRecord) error {
	err := s.db.WithContext(ctx).Create(record).Error
	if err == nil || !db.IsDuplicateKeyErr(err) {
		return err
	}

	return s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("user_id = ? AND model_name = ? AND usage_date = ?",
			record.UserID, record.ModelName, record.UsageDate).
		Updates(map[string]interface{}{
			"image_count": gorm.Expr("image_count + ?", record.ImageCount),
			"timestamp":   record.Timestamp,
		}).Error
}

func (s *Service) findByTriple(ctx context.Context, userID, modelName, usageDate string) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND model_name = ? AND usage_date = ?", userID, modelName, usageDate).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&usagedomain.UsageRecord{}).Error
	if err != nil {
		s.log.Error("clear usage failed", zap.Error(err))
		return err
	}
	s.log.Warn("usage ledger cleared")
	return nil
}

func (s *Service) recentCutoff() int64 {
	return s.clock.Now().Add(-usagedomain.RecentWindow).UnixMilli()
}
