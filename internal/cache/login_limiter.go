package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const loginKeyPrefix = "progkeeper:login:fail:"

// LoginLimiter counts failed logins per username and client address in a
// fixed window. Redis failures never block a login.
type LoginLimiter struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
	logger      zerolog.Logger
}

func NewLoginLimiter(client *redis.Client, maxAttempts int, window time.Duration, logger zerolog.Logger) *LoginLimiter {
	return &LoginLimiter{
		client:      client,
		maxAttempts: int64(maxAttempts),
		window:      window,
		logger:      logger,
	}
}

func (l *LoginLimiter) key(username, ip string) string {
	return fmt.Sprintf("%s%s|%s", loginKeyPrefix, username, ip)
}

// Allow reports whether another attempt may be made.
func (l *LoginLimiter) Allow(ctx context.Context, username, ip string) bool {
	n, err := l.client.Get(ctx, l.key(username, ip)).Int64()
	if err != nil {
		if err != redis.Nil {
			l.logger.Warn().Err(err).Msg("login limiter lookup failed")
		}
		return true
	}
	return n < l.maxAttempts
}

// RecordFailure bumps the counter. The window starts at the first failure
// and is not extended by later ones.
func (l *LoginLimiter) RecordFailure(ctx context.Context, username, ip string) {
	key := l.key(username, ip)
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Msg("login limiter record failed")
		return
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn().Err(err).Msg("login limiter expire failed")
		}
	}
}

func (l *LoginLimiter) Reset(ctx context.Context, username, ip string) {
	if err := l.client.Del(ctx, l.key(username, ip)).Err(); err != nil {
		l.logger.Warn().Err(err).Msg("login limiter reset failed")
	}
}
