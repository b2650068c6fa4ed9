package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/snapmeta-ai/snapmeta/internal/config"
)

const keyIngestUser = "usage:ingest:user:%s"

// IngestLimiter throttles record-usage per resolved user. A nil limiter
// (rate limiting disabled) allows everything.
type IngestLimiter struct {
	bucket *TokenBucket

	userRate  float64
	userBurst int
}

func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestUserRate <= 0 || limitCfg.IngestUserBurst <= 0 {
		return nil, errors.New("ingest user rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &IngestLimiter{
		bucket:    NewTokenBucket(client),
		userRate:  limitCfg.IngestUserRate,
		userBurst: limitCfg.IngestUserBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IngestLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIngestUser, strings.TrimSpace(userID)), l.userRate, l.userBurst)
}
