package migration

import (
	"github.com/snapmeta-ai/snapmeta/internal/config"
	usagedomain "github.com/snapmeta-ai/snapmeta/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql rely on the model's schema tags, including the
		// unique (user_id, model_name, usage_date) index the ingest merge
		// depends on.
		return conn.AutoMigrate(&usagedomain.UsageRecord{})
	}),
)
