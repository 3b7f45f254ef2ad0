package rate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// localSweepInterval bounds how often the in-process fallback map is
// swept for identifiers whose entries have all aged out.
const localSweepInterval = 256

// SlidingWindow is a sliding-window limiter over a per-identifier sorted
// set of attempt timestamps. When Redis is unreachable it degrades to an
// in-process approximation: a bounded timestamp list per key behind a
// mutex, swept periodically. That map is the only in-process lock in the
// module, and it is never held across an I/O boundary.
type SlidingWindow struct {
	redis  redis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	local  map[string][]int64
	checks int
}

// NewSlidingWindow creates a [SlidingWindow] limiter. logger may be nil.
func NewSlidingWindow(redisClient redis.UniversalClient, prefix string, logger *slog.Logger) *SlidingWindow {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SlidingWindow{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
		local:  make(map[string][]int64),
	}
}

func (l *SlidingWindow) key(identifier string) string {
	return l.prefix + ":rate_limit:" + identifier
}

// Allowed trims entries older than the window, counts the remainder, and
// records this attempt if the identifier is under limit. On Redis failure
// it falls back to the local approximation rather than blocking.
func (l *SlidingWindow) Allowed(ctx context.Context, identifier string, limit int, window time.Duration) bool {
	key := l.key(identifier)
	nowUnix := l.now().Unix()
	secs := windowSeconds(window)

	if err := l.redis.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(nowUnix-secs, 10)).Err(); err != nil {
		l.logger.Warn("sliding window trim failed, using local fallback", "identifier", identifier, "err", err)
		return l.localAllowed(identifier, limit, secs, nowUnix)
	}

	count, err := l.redis.ZCard(ctx, key).Result()
	if err != nil {
		l.logger.Warn("sliding window count failed, using local fallback", "identifier", identifier, "err", err)
		return l.localAllowed(identifier, limit, secs, nowUnix)
	}
	if count >= int64(limit) {
		return false
	}

	member := redis.Z{
		Score:  float64(nowUnix),
		Member: fmt.Sprintf("%d-%s", nowUnix, uuid.NewString()[:8]),
	}
	if err := l.redis.ZAdd(ctx, key, member).Err(); err != nil {
		l.logger.Warn("sliding window record failed, using local fallback", "identifier", identifier, "err", err)
		return l.localAllowed(identifier, limit, secs, nowUnix)
	}
	if err := l.redis.Expire(ctx, key, window+time.Second).Err(); err != nil {
		l.logger.Warn("sliding window expire failed", "identifier", identifier, "err", err)
	}
	return true
}

// Reset clears both the remote set and any local fallback state for the
// identifier.
func (l *SlidingWindow) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	delete(l.local, identifier)
	l.mu.Unlock()

	if err := l.redis.Del(ctx, l.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *SlidingWindow) localAllowed(identifier string, limit int, windowSecs, nowUnix int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.local[identifier][:0]
	for _, ts := range l.local[identifier] {
		if nowUnix-ts < windowSecs {
			kept = append(kept, ts)
		}
	}
	l.local[identifier] = kept

	if len(kept) >= limit {
		return false
	}
	l.local[identifier] = append(kept, nowUnix)

	l.checks++
	if l.checks >= localSweepInterval {
		l.checks = 0
		l.sweepLocked(windowSecs, nowUnix)
	}
	return true
}

// sweepLocked drops identifiers whose recorded attempts have all aged
// out. Caller holds l.mu.
func (l *SlidingWindow) sweepLocked(windowSecs, nowUnix int64) {
	for identifier, timestamps := range l.local {
		kept := timestamps[:0]
		for _, ts := range timestamps {
			if nowUnix-ts < windowSecs {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(l.local, identifier)
			continue
		}
		l.local[identifier] = kept
	}
}
