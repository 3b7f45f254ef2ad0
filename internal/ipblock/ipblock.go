// Package ipblock maintains the binary blocked/unblocked state an IP
// acquires after repeated rate-limit violations. Presence of the key
// means blocked; absence means not blocked; Redis TTL expiry lifts the
// block without any explicit cleanup.
package ipblock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures on the write paths.
var ErrRedisUnavailable = errors.New("ip block redis unavailable")

// List is the Redis-backed IP block list. The blocked check fails open
// (not blocked) and the remaining-time query fails closed (0) when Redis
// is unreachable.
type List struct {
	redis  redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewList creates an ip block [List]. logger may be nil.
func NewList(redisClient redis.UniversalClient, prefix string, logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &List{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
	}
}

func (l *List) key(ip string) string {
	return l.prefix + ":ip_block:" + ip
}

// IsBlocked reports whether the IP is currently blocked. Fail-open.
func (l *List) IsBlocked(ctx context.Context, ip string) bool {
	exists, err := l.redis.Exists(ctx, l.key(ip)).Result()
	if err != nil {
		l.logger.Error("ip block check failed, allowing", "ip", ip, "err", err)
		return false
	}
	return exists > 0
}

// Block marks the IP blocked for the given duration.
func (l *List) Block(ctx context.Context, ip string, duration time.Duration) error {
	if err := l.redis.Set(ctx, l.key(ip), "1", duration).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	l.logger.Warn("ip blocked", "ip", ip, "duration", duration)
	return nil
}

// Remaining returns how long the block has left, floored at zero.
// Fail-closed to 0 on error.
func (l *List) Remaining(ctx context.Context, ip string) time.Duration {
	ttl, err := l.redis.TTL(ctx, l.key(ip)).Result()
	if err != nil {
		l.logger.Error("ip block ttl query failed", "ip", ip, "err", err)
		return 0
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Unblock lifts the block immediately.
func (l *List) Unblock(ctx context.Context, ip string) error {
	if err := l.redis.Del(ctx, l.key(ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	l.logger.Info("ip unblocked", "ip", ip)
	return nil
}
