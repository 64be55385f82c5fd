package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/config"
)

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}

// RateLimitService keeps a sliding window of request timestamps per client
// in a Redis sorted set.
type RateLimitService struct {
	limit       int
	window      time.Duration
	logger      *logrus.Logger
	redisClient *redis.Client
	now         func() time.Time
}

func NewRateLimitService(cfg config.RateLimitConfig, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimitService{
		limit:       cfg.Requests,
		window:      window,
		logger:      logger,
		redisClient: redisClient,
		now:         time.Now,
	}
}

// CheckLimit records a request for clientID and reports what is left in the
// current window. Redis failures are permissive.
func (s *RateLimitService) CheckLimit(ctx context.Context, clientID string) *RateLimitInfo {
	key := fmt.Sprintf("rate_limit:client:%s", clientID)

	now := s.now()
	windowStart := now.Add(-s.window)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()

	// Remove expired entries
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))

	// Count requests still in the window, before this one
	countCmd := pipe.ZCard(ctx, key)

	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, s.window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		return &RateLimitInfo{
			Limit:     s.limit,
			Remaining: s.limit - 1,
			ResetTime: now.Add(s.window).Unix(),
		}
	}

	remaining := s.limit - int(countCmd.Val()) - 1
	if remaining < -1 {
		remaining = -1
	}

	return &RateLimitInfo{
		Limit:     s.limit,
		Remaining: remaining,
		ResetTime: now.Add(s.window).Unix(),
	}
}

// IsAllowed reports whether clientID may make another request.
func (s *RateLimitService) IsAllowed(ctx context.Context, clientID string) (bool, *RateLimitInfo) {
	info := s.CheckLimit(ctx, clientID)
	allowed := info.Remaining >= 0
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return allowed, info
}
