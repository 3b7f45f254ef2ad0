package authcore

import (
	"errors"
	"time"
)

// TokenConfig configures the credential codec.
type TokenConfig struct {
	// Secret is the shared HS256 signing key. Required.
	Secret []byte
	// Issuer is stamped into every credential when set.
	Issuer string
	// AccessTTL is the access token lifetime.
	AccessTTL time.Duration
	// RefreshTTL is the refresh token lifetime.
	RefreshTTL time.Duration
	// Leeway tolerates clock skew during decode.
	Leeway time.Duration
}

// RefreshConfig configures refresh-token rotation.
type RefreshConfig struct {
	// GracePeriod is how long a rotated-away refresh token still
	// authenticates refresh calls. It absorbs concurrent or retried
	// refreshes without forcing re-login.
	GracePeriod time.Duration
}

// LoginConfig configures the failed-login throttle and the IP block it
// escalates to.
type LoginConfig struct {
	// MaxAttempts is the failed-attempt budget per IP per window.
	MaxAttempts int
	// Window is the fixed rate-limit window.
	Window time.Duration
	// BlockDuration is how long an IP stays blocked once the budget is
	// exhausted.
	BlockDuration time.Duration
}

// VerificationConfig configures email verification codes.
type VerificationConfig struct {
	// CodeLength is the number of digits in a code.
	CodeLength int
	// CodeTTL is the code lifetime.
	CodeTTL time.Duration
	// SendLimit and SendWindow bound code sends per email (sliding
	// window).
	SendLimit  int
	SendWindow time.Duration
	// MaxAttempts is the wrong-guess budget before the code is
	// destroyed.
	MaxAttempts int
	// SendRetries is how many delivery attempts are made per send, with
	// exponential backoff starting at RetryBackoff.
	SendRetries  int
	RetryBackoff time.Duration
}

// Config is the engine configuration. Zero fields are filled from
// [defaultConfig] by the Builder; Secret has no default.
type Config struct {
	// Namespace prefixes every Redis key written by the engine.
	Namespace string

	Token        TokenConfig
	Refresh      RefreshConfig
	Login        LoginConfig
	Verification VerificationConfig
}

func defaultConfig() Config {
	return Config{
		Namespace: "authcore",
		Token: TokenConfig{
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Refresh: RefreshConfig{
			GracePeriod: 30 * time.Second,
		},
		Login: LoginConfig{
			MaxAttempts:   10,
			Window:        5 * time.Minute,
			BlockDuration: 10 * time.Minute,
		},
		Verification: VerificationConfig{
			CodeLength:   6,
			CodeTTL:      10 * time.Minute,
			SendLimit:    1,
			SendWindow:   time.Minute,
			MaxAttempts:  5,
			SendRetries:  3,
			RetryBackoff: time.Second,
		},
	}
}

// Validate reports the first configuration mistake found.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace required")
	}
	if len(c.Token.Secret) == 0 {
		return errors.New("token secret required")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("refresh TTL must not be shorter than access TTL")
	}
	if c.Refresh.GracePeriod <= 0 {
		return errors.New("refresh grace period must be positive")
	}
	if c.Login.MaxAttempts <= 0 || c.Login.Window <= 0 || c.Login.BlockDuration <= 0 {
		return errors.New("login throttle configuration must be positive")
	}
	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 10 {
		return errors.New("verification code length out of range")
	}
	if c.Verification.CodeTTL <= 0 || c.Verification.SendWindow <= 0 {
		return errors.New("verification TTLs must be positive")
	}
	if c.Verification.SendLimit <= 0 || c.Verification.MaxAttempts <= 0 {
		return errors.New("verification limits must be positive")
	}
	if c.Verification.SendRetries < 1 {
		return errors.New("verification send retries must be at least 1")
	}
	return nil
}
