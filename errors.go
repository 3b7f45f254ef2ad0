package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for any authentication failure a
	// caller should not be able to tell apart: unknown email, wrong
	// password, bad signature, revoked or expired token, wrong kind.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrThrottled is the generic throttling signal for both rate-limit
	// and IP-block triggers. It reveals no counters.
	ErrThrottled = errors.New("too many attempts")
	// ErrAccountLocked is returned when the identity's status is locked.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDeleted is returned when the identity's status is deleted.
	ErrAccountDeleted = errors.New("account deleted")
	// ErrIdentityNotFound is returned by flows that may name the identity
	// safely (refresh with a validly signed token).
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrVerifySendFailed is returned when the verification code could not
	// be delivered after retries; the cooldown is lifted so the user can
	// retry immediately.
	ErrVerifySendFailed = errors.New("verification code send failed")
	// ErrVerifyCodeInvalid is returned for a wrong, expired, or missing
	// verification code.
	ErrVerifyCodeInvalid = errors.New("verification code invalid")
	// ErrVerifyAttemptsExceeded is returned once the guess budget for a
	// verification code is exhausted; the code is destroyed.
	ErrVerifyAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrRedisUnavailable wraps infrastructure failures on paths whose
	// policy is to propagate rather than fail open. The requested state
	// change must be treated as not applied.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
