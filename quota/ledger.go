package quota

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

const (
	// Unlimited is the sentinel daily limit that bypasses the ledger.
	Unlimited int64 = -1
	// MaxConsumeCount is the hard ceiling on a single consume batch.
	// Exceeding it is a caller programming error, not a runtime failure.
	MaxConsumeCount int64 = 10000
)

var (
	// ErrInvalidCount is returned when the consume count is out of range.
	ErrInvalidCount = errors.New("quota count out of range")
	// ErrInvalidSubject is returned for an empty subject identifier.
	ErrInvalidSubject = errors.New("quota subject identifier required")
)

// checkAndConsumeLua performs the entire lazy-rollover check-and-consume
// as one unit: reset the bucket when the stored date is stale, refuse
// without mutation when the batch would exceed the limit, otherwise
// consume and refresh TTLs.
//
// KEYS[1] = reset-date key
// KEYS[2] = used-counter key
// ARGV[1] = daily limit
// ARGV[2] = today (YYYY-MM-DD)
// ARGV[3] = count
//
// Returns {used, remaining, consumed}; consumed == count means success.
var checkAndConsumeLua = redis.NewScript(`
local reset_key = KEYS[1]
local counter_key = KEYS[2]
local daily_limit = tonumber(ARGV[1])
local today_date = ARGV[2]
local count = tonumber(ARGV[3]) or 1

if daily_limit == -1 then
  return {0, -1, count}
end

local last_reset = redis.call('GET', reset_key)

if last_reset ~= today_date then
  redis.call('SET', reset_key, today_date)
  redis.call('SET', counter_key, 0)
  redis.call('EXPIRE', reset_key, 86400 * 2)
  redis.call('EXPIRE', counter_key, 86400 * 2)
  if count > daily_limit then
    return {0, 0, 0}
  end
  local new_value = redis.call('INCRBY', counter_key, count)
  redis.call('EXPIRE', counter_key, 86400 * 2)
  return {new_value, daily_limit - new_value, count}
end

local current = tonumber(redis.call('GET', counter_key)) or 0

if current + count > daily_limit then
  return {current, 0, 0}
end

local new_value = redis.call('INCRBY', counter_key, count)
redis.call('EXPIRE', counter_key, 86400 * 2)

return {new_value, daily_limit - new_value, count}
`)

// Subject identifies whose quota bucket is charged: an authenticated
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

// Result is the outcome of a check-and-consume call. Remaining is -1 for
// unlimited subjects.
type Result struct {
	Allowed   bool
	Used      int64
	Remaining int64
}

// Ledger tracks daily per-subject consumption with lazy rollover: the
// stored count only means anything for the stored calendar date, and the
// reset to a new day happens transactionally inside the next consume
// rather than on a schedule.
//
// Quota is a business soft-limit, not a security boundary. When Redis is
// unreachable the ledger fails open: it allows the request, reports zero
// used, and logs the failure.
type Ledger struct {
	redis  redis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a quota [Ledger]. logger may be nil.
func NewLedger(redisClient redis.UniversalClient, prefix string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

func (l *Ledger) counterKey(s Subject) string {
	return l.prefix + ":quota:daily:" + s.kind + ":" + s.id
}

func (l *Ledger) resetKey(s Subject) string {
	return l.prefix + ":quota:reset_date:" + s.kind + ":" + s.id
}

// CheckAndConsume atomically charges count units against the subject's
// daily budget. It never partially applies: either the whole batch is
// consumed or the stored count is untouched. A dailyLimit of [Unlimited]
// bypasses the ledger entirely.
//
// The returned error only reports caller mistakes (bad count, empty
// subject); infrastructure failures fail open.
func (l *Ledger) CheckAndConsume(ctx context.Context, subject Subject, dailyLimit int64, count int64) (Result, error) {
	if count <= 0 || count > MaxConsumeCount {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	if subject.id == "" {
		return Result{}, ErrInvalidSubject
	}

	if dailyLimit == Unlimited {
		return Result{Allowed: true, Used: 0, Remaining: Unlimited}, nil
	}

	today := l.now().Format("2006-01-02")

	values, err := checkAndConsumeLua.Run(
		ctx,
		l.redis,
		[]string{l.resetKey(subject), l.counterKey(subject)},
		dailyLimit,
		today,
		count,
	).Int64Slice()
	if err != nil || len(values) != 3 {
		l.logger.Error("quota check failed, allowing", "subject", subject.id, "err", err)
		return Result{Allowed: true, Used: 0, Remaining: dailyLimit}, nil
	}

	used, remaining, consumed := values[0], values[1], values[2]
	if consumed != count {
		return Result{Allowed: false, Used: used, Remaining: 0}, nil
	}
	return Result{Allowed: true, Used: used, Remaining: remaining}, nil
}

// GetUsed returns the subject's consumption for the current bucket.
// Fail-open read: absent keys and infrastructure errors both report 0.
func (l *Ledger) GetUsed(ctx context.Context, subject Subject) int64 {
	value, err := l.redis.Get(ctx, l.counterKey(subject)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.logger.Error("quota read failed", "subject", subject.id, "err", err)
		}
		return 0
	}
	return value
}
