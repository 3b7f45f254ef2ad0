package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/tidegate/authcore/counter"
	"github.com/tidegate/authcore/internal/ipblock"
	"github.com/tidegate/authcore/internal/rate"
	"github.com/tidegate/authcore/internal/stores"
	"github.com/tidegate/authcore/metrics"
	"github.com/tidegate/authcore/password"
	"github.com/tidegate/authcore/quota"
	"github.com/tidegate/authcore/token"
	"github.com/tidegate/authcore/tokenstore"
)

// Engine orchestrates the token lifecycle, login throttling, quota
// enforcement and verification codes over a shared Redis client. All
// methods are safe for concurrent use.
type Engine struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	identities    IdentityStore
	subscriptions SubscriptionStore
	sender        NotificationSender

	codec  *token.Codec
	hasher *password.Hasher

	tokens        *tokenstore.Store
	quotas        *quota.Ledger
	counters      *counter.Ledger
	loginLimiter  *rate.FixedWindow
	sendLimiter   *rate.SlidingWindow
	blocklist     *ipblock.List
	verifications *stores.VerificationStore
}

// Counters exposes the usage counter ledger.
func (e *Engine) Counters() *counter.Ledger { return e.counters }

// Quotas exposes the daily quota ledger.
func (e *Engine) Quotas() *quota.Ledger { return e.quotas }

// Tokens exposes the token store for direct revocation or inspection.
func (e *Engine) Tokens() *tokenstore.Store { return e.tokens }

// Login authenticates email and password and issues a token pair.
//
// A blocked source address fails before any credential work. A failed
// attempt charges the per-address budget; exhausting the budget blocks
// the address for the configured duration. Unknown email and wrong
// password are indistinguishable to the caller. When deviceID is set,
// anonymous usage counters accumulated under it are folded into the
// identity on success.
func (e *Engine) Login(ctx context.Context, email, pass, ip, deviceID string) (*TokenPair, error) {
	if ip != "" && e.blocklist.IsBlocked(ctx, ip) {
		e.metrics.LoginThrottled()
		return nil, ErrThrottled
	}

	identity, err := e.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if identity == nil {
		e.chargeLoginFailure(ctx, ip)
		e.metrics.LoginFailure()
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil {
		e.logger.Error("stored password hash unreadable", "identity", identity.ID, "error", err)
		ok = false
	}
	if !ok {
		e.chargeLoginFailure(ctx, ip)
		e.metrics.LoginFailure()
		return nil, ErrInvalidCredentials
	}

	if err := statusError(identity.Status); err != nil {
		return nil, err
	}

	pair, err := e.issuePair(ctx, identity)
	if err != nil {
		return nil, err
	}

	if deviceID != "" {
		if _, err := e.counters.MergeAnonymous(ctx, deviceID, identity.ID, nil); err != nil {
			e.logger.Error("anonymous counter merge failed", "identity", identity.ID, "error", err)
		}
	}

	e.metrics.LoginSuccess()
	return pair, nil
}

// chargeLoginFailure spends one unit of the per-address failure budget
// and escalates to an address block once the budget is exhausted.
func (e *Engine) chargeLoginFailure(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	if e.loginLimiter.Allowed(ctx, "login:"+ip, e.config.Login.MaxAttempts, e.config.Login.Window) {
		return
	}
	if err := e.blocklist.Block(ctx, ip, e.config.Login.BlockDuration); err != nil {
		e.logger.Error("ip block failed", "ip", ip, "error", err)
		return
	}
	e.metrics.IPBlock()
}

// infraError tags a propagated Redis-backed store failure with the
// package sentinel, so callers test one identity no matter which store
// failed. The requested state change must be treated as not applied.
func infraError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func statusError(status IdentityStatus) error {
	switch status {
	case StatusLocked:
		return ErrAccountLocked
	case StatusDeleted:
		return ErrAccountDeleted
	default:
		return nil
	}
}

// issuePair mints and persists an access and refresh token for the
// identity. Both tokens are stored before the pair is returned, so a
// returned pair is immediately usable.
func (e *Engine) issuePair(ctx context.Context, identity *Identity) (*TokenPair, error) {
	access, accessExp, err := e.codec.Issue(identity.ID, identity.Email, token.KindAccess, e.config.Token.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := e.codec.Issue(identity.ID, identity.Email, token.KindRefresh, e.config.Token.RefreshTTL)
	if err != nil {
		return nil, err
	}

	if err := e.tokens.Store(ctx, access, identity.ID, token.KindAccess, accessExp); err != nil {
		return nil, infraError(err)
	}
	if err := e.tokens.Store(ctx, refresh, identity.ID, token.KindRefresh, refreshExp); err != nil {
		return nil, infraError(err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
	}, nil
}

// Refresh rotates a refresh token into a fresh pair. The old token is
// moved to a short grace set so a concurrent retry that already holds
// it can still be answered; only one rotation of a given token wins.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.codec.Decode(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if claims.Kind != token.KindRefresh {
		return nil, ErrInvalidCredentials
	}

	identity, err := e.identities.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}
	if err := statusError(identity.Status); err != nil {
		return nil, err
	}

	known, err := e.tokens.VerifyRefreshWithGrace(ctx, refreshToken, identity.ID)
	if err != nil {
		return nil, infraError(err)
	}
	if !known {
		return nil, ErrInvalidCredentials
	}

	access, accessExp, err := e.codec.Issue(identity.ID, identity.Email, token.KindAccess, e.config.Token.AccessTTL)
	if err != nil {
		return nil, err
	}
	newRefresh, refreshExp, err := e.codec.Issue(identity.ID, identity.Email, token.KindRefresh, e.config.Token.RefreshTTL)
	if err != nil {
		return nil, err
	}

	rotated, err := e.tokens.RotateRefresh(ctx, refreshToken, newRefresh, identity.ID, refreshExp)
	if err != nil {
		return nil, infraError(err)
	}
	if !rotated {
		// Lost to a concurrent rotation of the same token. The winner's
		// pair is already live; this caller must retry with it.
		e.metrics.RefreshReplay()
		return nil, ErrInvalidCredentials
	}

	if err := e.tokens.Store(ctx, access, identity.ID, token.KindAccess, accessExp); err != nil {
		return nil, infraError(err)
	}

	e.metrics.RefreshSuccess()
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresAt:    accessExp,
	}, nil
}

// Authenticate validates an access token end to end: signature and
// expiry via the codec, then presence in the active set so revocation
// is respected. Store lookups fail closed.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := e.codec.Decode(accessToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if claims.Kind != token.KindAccess {
		return nil, ErrInvalidCredentials
	}

	active, err := e.tokens.Verify(ctx, accessToken, claims.UserID, token.KindAccess)
	if err != nil {
		return nil, infraError(err)
	}
	if !active {
		return nil, ErrInvalidCredentials
	}

	return claims, nil
}

// Logout revokes the presented access token. A token that is already
// gone is not an error.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	claims, err := e.codec.Decode(accessToken)
	if err != nil {
		return ErrInvalidCredentials
	}

	_, err = e.tokens.Revoke(ctx, accessToken, claims.UserID, token.KindAccess)
	return infraError(err)
}

// LogoutAll revokes every token the identity holds, including grace
// entries, and returns how many were dropped.
func (e *Engine) LogoutAll(ctx context.Context, identity int64) (int64, error) {
	revoked, err := e.tokens.RevokeAll(ctx, identity)
	return revoked, infraError(err)
}

// CheckQuota resolves the subject's plan and atomically consumes count
// units of today's quota. Identity 0 is anonymous and is keyed by
// deviceID. Redis failures fail open so a degraded cache never takes
// the product down.
func (e *Engine) CheckQuota(ctx context.Context, identity int64, deviceID string, count int64) (QuotaDecision, error) {
	if e.subscriptions == nil {
		return QuotaDecision{}, errors.New("subscription store not configured")
	}

	plan, err := e.subscriptions.GetPlan(ctx, identity)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("plan lookup: %w", err)
	}

	subject := quota.Identity(identity)
	if identity == 0 {
		subject = quota.Device(deviceID)
	}

	result, err := e.quotas.CheckAndConsume(ctx, subject, plan.DailyLimit, count)
	if err != nil {
		return QuotaDecision{}, err
	}

	if result.Allowed {
		e.metrics.QuotaAllowed()
	} else {
		e.metrics.QuotaDenied()
	}

	return QuotaDecision{
		Allowed:   result.Allowed,
		Used:      result.Used,
		Remaining: result.Remaining,
	}, nil
}

// SendVerifyCode generates a verification code for email and delivers
// it through the configured sender, retrying with exponential backoff.
// Sends are limited per address; a delivery that fails after all
// retries destroys the code and lifts the cooldown so the user can
// retry immediately.
func (e *Engine) SendVerifyCode(ctx context.Context, email, locale string) error {
	if e.sender == nil {
		return errors.New("notification sender not configured")
	}

	limiterID := "email_verify:" + email
	if !e.sendLimiter.Allowed(ctx, limiterID, e.config.Verification.SendLimit, e.config.Verification.SendWindow) {
		return ErrThrottled
	}

	code, err := randomDigits(e.config.Verification.CodeLength)
	if err != nil {
		return err
	}
	if err := e.verifications.Save(ctx, email, code, e.config.Verification.CodeTTL); err != nil {
		return infraError(err)
	}

	if e.deliverCode(ctx, email, code, locale) {
		return nil
	}

	// Undo the send so the cooldown does not punish a delivery failure.
	if err := e.verifications.Clear(ctx, email); err != nil {
		e.logger.Error("verification cleanup failed", "error", err)
	}
	if err := e.sendLimiter.Reset(ctx, limiterID); err != nil {
		e.logger.Error("verification cooldown reset failed", "error", err)
	}
	return ErrVerifySendFailed
}

func (e *Engine) deliverCode(ctx context.Context, email, code, locale string) bool {
	backoff := e.config.Verification.RetryBackoff
	for attempt := 0; attempt < e.config.Verification.SendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if e.sender.SendCode(ctx, email, code, locale) {
			return true
		}
	}
	return false
}

// ConfirmVerifyCode checks a user-supplied code. Wrong guesses spend a
// bounded budget; exhausting it destroys the code.
func (e *Engine) ConfirmVerifyCode(ctx context.Context, email, code string) error {
	err := e.verifications.Consume(ctx, email, code, e.config.Verification.MaxAttempts, e.config.Verification.CodeTTL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrCodeNotFound), errors.Is(err, stores.ErrCodeMismatch):
		return ErrVerifyCodeInvalid
	case errors.Is(err, stores.ErrAttemptsExceeded):
		return ErrVerifyAttemptsExceeded
	default:
		return infraError(err)
	}
}

// UnblockIP lifts a source-address block ahead of its expiry.
func (e *Engine) UnblockIP(ctx context.Context, ip string) error {
	if err := e.blocklist.Unblock(ctx, ip); err != nil {
		return infraError(err)
	}
	return infraError(e.loginLimiter.Reset(ctx, "login:"+ip, e.config.Login.Window))
}

// BlockRemaining reports how long a source address stays blocked, or
// zero when it is not blocked.
func (e *Engine) BlockRemaining(ctx context.Context, ip string) time.Duration {
	return e.blocklist.Remaining(ctx, ip)
}

// randomDigits returns n decimal digits from crypto/rand, left padded
// with zeros.
func randomDigits(n int) (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < n; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
