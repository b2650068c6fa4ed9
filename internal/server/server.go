package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/snapmeta-ai/snapmeta/internal/config"
	"github.com/snapmeta-ai/snapmeta/internal/ratelimit"
	"github.com/snapmeta-ai/snapmeta/internal/usage"
	usagedomain "github.com/snapmeta-ai/snapmeta/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	usage.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

type ServerParam struct {
	fx.In

	Engine   *gin.Engine
	Log      *zap.Logger
	Cfg      config.Config
	UsageSvc usagedomain.Service
	Limiter  *ratelimit.IngestLimiter `optional:"true"`
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger
	cfg    config.Config

	usagesvc usagedomain.Service
	limiter  *ratelimit.IngestLimiter
}

func NewServer(p ServerParam) *Server {
	return &Server{
		engine:   p.Engine,
		log:      p.Log.Named("server"),
		cfg:      p.Cfg,
		usagesvc: p.UsageSvc,
		limiter:  p.Limiter,
	}
}

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(AccessLog(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.Identity())

	usageGroup := api.Group("/usage")
	usageGroup.POST("", s.RecordUsage)
	usageGroup.GET("/recent", s.RecentUsage)
	usageGroup.GET("/users/:userId", s.UserRecentUsage)
	usageGroup.GET("/users/:userId/count", s.CurrentImageCount)
	usageGroup.GET("/users/:userId/daily", s.DailyUserUsage)
	usageGroup.GET("/models/stats", s.ModelUsageStats)
	usageGroup.DELETE("", s.RequireAdmin(), s.ClearUsage)
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
