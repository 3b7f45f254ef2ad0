package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidegate/authcore/token"
)

// ErrRedisUnavailable wraps every infrastructure failure surfaced by the
// store. Callers must treat the requested state change as not applied.
var ErrRedisUnavailable = errors.New("token store redis unavailable")

// rotateRefreshLua moves the presented refresh hash from the current set
// to the grace set and installs the new hash, as one atomic unit. The
// ZREM result doubles as the rotation precondition: of two concurrent
// rotations presenting the same old hash, exactly one observes it in the
// current set. A hash already moved to grace cannot be rotated again.
//
// KEYS[1] = refresh current zset
// KEYS[2] = refresh grace zset
// ARGV[1] = old token hash
// ARGV[2] = grace expiry score (ms epoch)
// ARGV[3] = grace set TTL (seconds)
// ARGV[4] = new token hash
// ARGV[5] = new token expiry score (ms epoch)
//
// Returns 1 when rotated, 0 when the old hash was not current.
var rotateRefreshLua = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('EXPIRE', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[5], ARGV[4])
return 1
`)

// Store tracks live credential hashes per identity in Redis sorted sets,
// one set per credential kind plus a short-lived grace set holding the
// previous refresh token during rotation. Set members are SHA-256 hex
// digests of the credential string (fast fixed-length indexing, not a
// security boundary); scores are millisecond expiry timestamps.
//
// A credential is live iff its hash is present in the set for its kind
// and the stored expiry is >= now. Expired-but-present entries are
// evicted lazily on the next verify.
type Store struct {
	redis       redis.UniversalClient
	prefix      string
	gracePeriod time.Duration
}

// NewStore creates a token [Store]. prefix namespaces every key;
// gracePeriod bounds how long a rotated-away refresh token remains
// acceptable.
func NewStore(redisClient redis.UniversalClient, prefix string, gracePeriod time.Duration) *Store {
	if gracePeriod <= 0 {
		gracePeriod = 30 * time.Second
	}
	return &Store{
		redis:       redisClient,
		prefix:      prefix,
		gracePeriod: gracePeriod,
	}
}

func (s *Store) key(kind token.Kind, identity int64) string {
	switch kind {
	case token.KindAccess:
		return s.prefix + ":access_token:" + strconv.FormatInt(identity, 10)
	case token.KindRefresh:
		return s.prefix + ":refresh_token:" + strconv.FormatInt(identity, 10)
	default:
		return s.prefix + ":unknown_token:" + strconv.FormatInt(identity, 10)
	}
}

func (s *Store) graceKey(identity int64) string {
	return s.prefix + ":refresh_token_old:" + strconv.FormatInt(identity, 10)
}

func hashToken(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}

// Store upserts the credential hash with its expiry score. Idempotent:
// re-storing the same credential refreshes the score.
func (s *Store) Store(ctx context.Context, tokenStr string, identity int64, kind token.Kind, expiresAt int64) error {
	key := s.key(kind, identity)
	member := redis.Z{Score: float64(expiresAt), Member: hashToken(tokenStr)}

	if err := s.redis.ZAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Verify reports whether the credential is live. A present entry whose
// stored expiry has passed is evicted before returning false, so the set
// self-heals without a background sweeper.
func (s *Store) Verify(ctx context.Context, tokenStr string, identity int64, kind token.Kind) (bool, error) {
	return s.verifyInSet(ctx, s.key(kind, identity), hashToken(tokenStr))
}

func (s *Store) verifyInSet(ctx context.Context, key, tokenHash string) (bool, error) {
	score, err := s.redis.ZScore(ctx, key, tokenHash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if int64(score) < time.Now().UnixMilli() {
		if err := s.redis.ZRem(ctx, key, tokenHash).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return false, nil
	}
	return true, nil
}

// Revoke removes the credential hash and reports whether it was present.
// Revoking a never-stored credential is a no-op, not an error.
func (s *Store) Revoke(ctx context.Context, tokenStr string, identity int64, kind token.Kind) (bool, error) {
	removed, err := s.redis.ZRem(ctx, s.key(kind, identity), hashToken(tokenStr)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed > 0, nil
}

// RevokeAll clears the access, refresh, and refresh-grace sets for the
// identity and returns the total number of entries removed. Used for full
// logout and account-compromise response.
func (s *Store) RevokeAll(ctx context.Context, identity int64) (int64, error) {
	keys := []string{
		s.key(token.KindAccess, identity),
		s.key(token.KindRefresh, identity),
		s.graceKey(identity),
	}

	var total int64
	cards := make([]*redis.IntCmd, len(keys))
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cards[i] = pipe.ZCard(ctx, key)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, cmd := range cards {
		total += cmd.Val()
	}
	return total, nil
}

// RotateRefresh atomically retires the old refresh token into the grace
// set and installs the new one as current. Exactly one of two concurrent
// rotations presenting the same old token succeeds; the loser observes
// false, not an error. A token already in the grace set cannot rotate.
func (s *Store) RotateRefresh(ctx context.Context, oldToken, newToken string, identity int64, newExpiresAt int64) (bool, error) {
	graceUntil := time.Now().UnixMilli() + s.gracePeriod.Milliseconds()
	graceSeconds := int64(s.gracePeriod / time.Second)
	if graceSeconds < 1 {
		graceSeconds = 1
	}

	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(token.KindRefresh, identity), s.graceKey(identity)},
		hashToken(oldToken),
		graceUntil,
		graceSeconds,
		hashToken(newToken),
		newExpiresAt,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return result == 1, nil
}

// VerifyRefreshWithGrace checks the current refresh set first and falls
// back to the grace set, evicting an expired grace entry on the way. This
// is the only verify path that consults the grace set; access tokens
// never do.
func (s *Store) VerifyRefreshWithGrace(ctx context.Context, tokenStr string, identity int64) (bool, error) {
	tokenHash := hashToken(tokenStr)

	ok, err := s.verifyInSet(ctx, s.key(token.KindRefresh, identity), tokenHash)
	if err != nil || ok {
		return ok, err
	}
	return s.verifyInSet(ctx, s.graceKey(identity), tokenHash)
}

// ActiveCount returns the number of tracked credential hashes for the
// identity and kind, including entries awaiting lazy eviction.
func (s *Store) ActiveCount(ctx context.Context, identity int64, kind token.Kind) (int64, error) {
	count, err := s.redis.ZCard(ctx, s.key(kind, identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}
