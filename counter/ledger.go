package counter

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

// Category names an independently tracked counter stream.
type Category string

const (
	// DownloadCount counts completed downloads.
	DownloadCount Category = "download_count"
	// DownloadSizeTotal accumulates downloaded bytes.
	DownloadSizeTotal Category = "download_size_total"
	// APICallCount counts API invocations.
	APICallCount Category = "api_call_count"
	// PageViewCount counts page views.
	PageViewCount Category = "page_view_count"
	// SearchCount counts search requests.
	SearchCount Category = "search_count"
)

// Categories lists every known category in a stable order; GetAll and a
// nil-categories Merge iterate it.
var Categories = []Category{
	DownloadCount,
	DownloadSizeTotal,
	APICallCount,
	PageViewCount,
	SearchCount,
}

var categoryTTLs = map[Category]time.Duration{
	DownloadCount:     30 * 24 * time.Hour,
	DownloadSizeTotal: 30 * 24 * time.Hour,
	APICallCount:      7 * 24 * time.Hour,
	PageViewCount:     24 * time.Hour,
	SearchCount:       24 * time.Hour,
}

const defaultTTL = 7 * 24 * time.Hour

// TTL returns the retention for a category, falling back to a week for
// categories added by the host application.
func (c Category) TTL() time.Duration {
	if ttl, ok := categoryTTLs[c]; ok {
		return ttl
	}
	return defaultTTL
}

// MaxDelta is the sanity ceiling for a single increment.
const MaxDelta int64 = 1_000_000

var (
	// ErrInvalidDelta is returned when an increment delta is out of range.
	ErrInvalidDelta = errors.New("counter delta out of range")
	// ErrInvalidSubject is returned for an empty subject identifier.
	ErrInvalidSubject = errors.New("counter subject identifier required")
	// ErrRedisUnavailable wraps infrastructure failures on write paths.
	ErrRedisUnavailable = errors.New("counter redis unavailable")
)

// incrWithExpireLua increments a counter and stamps the category TTL only
// on the increment that created the key, so later increments never push
// the retention window out.
//
// KEYS[1] = counter key
// ARGV[1] = delta
// ARGV[2] = TTL seconds
var incrWithExpireLua = redis.NewScript(`
local current = redis.call('INCRBY', KEYS[1], ARGV[1])
if current == tonumber(ARGV[1]) then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return current
`)

// mergeAnonymousLua folds an anonymous counter into its authenticated
// counterpart and deletes the anonymous key, atomically. The target's TTL
// is only ever extended: a freshly created key gets the category TTL, an
// existing key keeps its TTL unless it is shorter than the category TTL,
// and a key with no TTL is never given one. Merging an absent anonymous
// key is a no-op, which makes a double merge harmless.
//
// KEYS[1] = anonymous counter key
// KEYS[2] = authenticated counter key
// ARGV[1] = category TTL seconds
//
// Returns the value folded in (0 when nothing was merged).
var mergeAnonymousLua = redis.NewScript(`
local anonymous_key = KEYS[1]
local user_key = KEYS[2]
local ttl = tonumber(ARGV[1])

local anonymous_value = redis.call('GET', anonymous_key)
if not anonymous_value then
  return 0
end

local existed = redis.call('EXISTS', user_key)
redis.call('INCRBY', user_key, tonumber(anonymous_value))

if existed == 0 then
  redis.call('EXPIRE', user_key, ttl)
else
  local current_ttl = redis.call('TTL', user_key)
  if current_ttl >= 0 and current_ttl < ttl then
    redis.call('EXPIRE', user_key, ttl)
  end
end

redis.call('DEL', anonymous_key)

return tonumber(anonymous_value)
`)

// Subject identifies whose counter is addressed: an authenticated
// identity or an anonymous device.
type Subject struct {
	kind string
	id   string
}

// Identity keys a subject by numeric identity.
func Identity(identity int64) Subject {
	return Subject{kind: "authenticated", id: strconv.FormatInt(identity, 10)}
}

// Device keys a subject by opaque device id.
func Device(deviceID string) Subject {
	return Subject{kind: "anonymous", id: deviceID}
}

func (s Subject) valid() error {
	if s.id == "" {
		return ErrInvalidSubject
	}
	if len(s.id) > 256 {
		return fmt.Errorf("%w: identifier too long", ErrInvalidSubject)
	}
	return nil
}

// Ledger maintains generic per-subject incrementing counters with
// category-specific retention, plus the one-shot merge that carries an
// anonymous session's history over to the identity it logs in as.
//
// Reads fail open to zero; writes propagate infrastructure errors so the
// caller can treat the state change as not applied.
type Ledger struct {
	redis  redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewLedger creates a counter [Ledger]. logger may be nil.
func NewLedger(redisClient redis.UniversalClient, prefix string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
	}
}

func (l *Ledger) key(category Category, s Subject) string {
	return l.prefix + ":counter:" + string(category) + ":" + s.kind + ":" + s.id
}

// Increment adds delta to the subject's counter and returns the new
// value. The category TTL is stamped only when this increment creates
// the key.
func (l *Ledger) Increment(ctx context.Context, category Category, subject Subject, delta int64) (int64, error) {
	if err := subject.valid(); err != nil {
		return 0, err
	}
	if delta <= 0 || delta > MaxDelta {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDelta, delta)
	}

	value, err := incrWithExpireLua.Run(
		ctx,
		l.redis,
		[]string{l.key(category, subject)},
		delta,
		int64(category.TTL()/time.Second),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return value, nil
}

// Get returns the current counter value, failing open to 0 on absence or
// infrastructure error.
func (l *Ledger) Get(ctx context.Context, category Category, subject Subject) int64 {
	if err := subject.valid(); err != nil {
		return 0
	}

	value, err := l.redis.Get(ctx, l.key(category, subject)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.logger.Error("counter read failed", "category", category, "subject", subject.id, "err", err)
		}
		return 0
	}
	return value
}

// GetAll returns every category's value for the subject from a single
// MGET, so the snapshot is consistent under concurrent increments.
// Fail-open: errors yield all zeros.
func (l *Ledger) GetAll(ctx context.Context, subject Subject) map[Category]int64 {
	results := make(map[Category]int64, len(Categories))
	for _, category := range Categories {
		results[category] = 0
	}
	if err := subject.valid(); err != nil {
		return results
	}

	keys := make([]string, len(Categories))
	for i, category := range Categories {
		keys[i] = l.key(category, subject)
	}

	values, err := l.redis.MGet(ctx, keys...).Result()
	if err != nil {
		l.logger.Error("counter snapshot failed", "subject", subject.id, "err", err)
		return results
	}

	for i, raw := range values {
		if raw == nil {
			continue
		}
		if s, ok := raw.(string); ok {
			if v, parseErr := strconv.ParseInt(s, 10, 64); parseErr == nil {
				results[Categories[i]] = v
			}
		}
	}
	return results
}

// MergeAnonymous folds the device's counters into the identity's and
// deletes the anonymous keys, one atomic script per category. It returns
// the amount folded in per category; a repeat merge finds nothing to fold
// and reports zeros. categories of nil means all known categories.
func (l *Ledger) MergeAnonymous(ctx context.Context, deviceID string, identity int64, categories []Category) (map[Category]int64, error) {
	device := Device(deviceID)
	if err := device.valid(); err != nil {
		return nil, err
	}
	if identity < 1 {
		return nil, fmt.Errorf("%w: identity must be positive", ErrInvalidSubject)
	}
	if categories == nil {
		categories = Categories
	}

	user := Identity(identity)
	results := make(map[Category]int64, len(categories))

	for _, category := range categories {
		merged, err := mergeAnonymousLua.Run(
			ctx,
			l.redis,
			[]string{l.key(category, device), l.key(category, user)},
			int64(category.TTL()/time.Second),
		).Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		results[category] = merged
		if merged > 0 {
			l.logger.Info("merged anonymous counter",
				"category", category, "device_id", deviceID, "identity", identity, "merged", merged)
		}
	}
	return results, nil
}

// Reset deletes the subject's counter for a category.
func (l *Ledger) Reset(ctx context.Context, category Category, subject Subject) error {
	if err := subject.valid(); err != nil {
		return err
	}
	if err := l.redis.Del(ctx, l.key(category, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
