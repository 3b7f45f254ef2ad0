package rate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures on the explicit-error paths
// (Reset). The check paths never surface it; they fail open instead.
var ErrRedisUnavailable = errors.New("rate limiter redis unavailable")

// incrWithExpireLua bumps the window counter and stamps the window TTL
// only on the first hit, so the key expires on its own once the window
// plus a one second buffer has passed.
var incrWithExpireLua = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// FixedWindow is a fixed-window counter limiter. Stale windows are
// garbage-collected by TTL, never explicitly.
type FixedWindow struct {
	redis  redis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewFixedWindow creates a [FixedWindow] limiter. logger may be nil.
func NewFixedWindow(redisClient redis.UniversalClient, prefix string, logger *slog.Logger) *FixedWindow {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FixedWindow{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// windowSeconds converts a window to whole seconds, floored at 1 so a
// sub-second window neither divides by zero nor disables trimming.
func windowSeconds(window time.Duration) int64 {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (l *FixedWindow) key(identifier string, window time.Duration) string {
	windowID := l.now().Unix() / windowSeconds(window)
	return l.prefix + ":fixed_window_limit:" + identifier + ":" + strconv.FormatInt(windowID, 10)
}

// Allowed atomically counts this attempt against the current window and
// reports whether the identifier is still within limit. Fail-open: when
// Redis is unreachable the attempt is allowed.
func (l *FixedWindow) Allowed(ctx context.Context, identifier string, limit int, window time.Duration) bool {
	count, err := incrWithExpireLua.Run(
		ctx,
		l.redis,
		[]string{l.key(identifier, window)},
		windowSeconds(window)+1,
	).Int64()
	if err != nil {
		l.logger.Error("fixed window check failed, allowing", "identifier", identifier, "err", err)
		return true
	}
	return count <= int64(limit)
}

// Count returns the current window's counter, 0 on absence or error.
func (l *FixedWindow) Count(ctx context.Context, identifier string, window time.Duration) int64 {
	count, err := l.redis.Get(ctx, l.key(identifier, window)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.logger.Error("fixed window read failed", "identifier", identifier, "err", err)
		}
		return 0
	}
	return count
}

// Reset clears the current window's counter. Used to lift a cooldown the
// caller imposed for a side effect that then failed, so the user is not
// penalized for an infrastructure problem.
func (l *FixedWindow) Reset(ctx context.Context, identifier string, window time.Duration) error {
	if err := l.redis.Del(ctx, l.key(identifier, window)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
