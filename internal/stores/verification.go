package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCodeNotFound means no code is stored for the email, or it expired.
	ErrCodeNotFound = errors.New("verification code not found")
	// ErrCodeMismatch means the supplied code did not match.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrAttemptsExceeded means the code was invalidated after too many
	// wrong guesses.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrRedisUnavailable wraps infrastructure failures.
	ErrRedisUnavailable = errors.New("verification store redis unavailable")
)

// VerificationStore keeps short-lived email verification codes together
// with a per-email wrong-guess counter. The counter shares the code's
// lifetime, and both are deleted on success or when the guess budget is
// exhausted.
type VerificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewVerificationStore creates a [VerificationStore].
func NewVerificationStore(redisClient redis.UniversalClient, prefix string) *VerificationStore {
	return &VerificationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *VerificationStore) codeKey(email string) string {
	return s.prefix + ":email_verify:" + email
}

func (s *VerificationStore) attemptsKey(email string) string {
	return s.prefix + ":email_verify_attempts:" + email
}

// Save stores the code with the given lifetime, replacing any previous
// code for the email.
func (s *VerificationStore) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.codeKey(email), code, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume validates a user-supplied code. Each call counts against the
// guess budget; once maxAttempts is crossed the stored code is destroyed.
// On a correct guess both the code and the counter are deleted, so a code
// verifies at most once.
func (s *VerificationStore) Consume(ctx context.Context, email, input string, maxAttempts int, codeTTL time.Duration) error {
	codeKey := s.codeKey(email)
	attemptsKey := s.attemptsKey(email)

	attempts, err := s.redis.Incr(ctx, attemptsKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if attempts == 1 {
		if err := s.redis.Expire(ctx, attemptsKey, codeTTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if attempts > int64(maxAttempts) {
		if err := s.redis.Del(ctx, codeKey, attemptsKey).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return ErrAttemptsExceeded
	}

	stored, err := s.redis.Get(ctx, codeKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(input)) != 1 {
		return ErrCodeMismatch
	}

	if err := s.redis.Del(ctx, codeKey, attemptsKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear removes the code and its guess counter, for manual resets.
func (s *VerificationStore) Clear(ctx context.Context, email string) error {
	if err := s.redis.Del(ctx, s.codeKey(email), s.attemptsKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
