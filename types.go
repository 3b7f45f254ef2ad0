package authcore

import "context"

// IdentityStatus is the lifecycle state of an identity record.
type IdentityStatus uint8

const (
	// StatusOK allows authentication.
	StatusOK IdentityStatus = iota
	// StatusLocked refuses authentication but keeps the record.
	StatusLocked
	// StatusDeleted refuses authentication; the record is tombstoned.
	StatusDeleted
)

// Identity is the minimal account record the engine needs from the
// relational store. The engine never writes identities.
type Identity struct {
	ID           int64
	Email        string
	PasswordHash string
	Status       IdentityStatus
}

// IdentityStore is the relational lookup collaborator. Implementations
// return (nil, nil) for a missing record; errors are infrastructure
// failures only.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id int64) (*Identity, error)
}

// Plan carries the subscription attributes the quota ledger consumes.
// DailyLimit of -1 means unlimited.
type Plan struct {
	Period     string
	DailyLimit int64
}

// SubscriptionStore resolves an identity's plan. Identity 0 is the
// anonymous plan.
type SubscriptionStore interface {
	GetPlan(ctx context.Context, identity int64) (Plan, error)
}

// NotificationSender delivers verification codes. A false return means
// the delivery failed and may be retried by the engine.
type NotificationSender interface {
	SendCode(ctx context.Context, email, code, locale string) bool
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token's expiry as millisecond epoch.
	ExpiresAt int64
}

// QuotaDecision reports the outcome of a quota check for the caller's
// response shaping. Remaining is -1 for unlimited plans.
type QuotaDecision struct {
	Allowed   bool
	Used      int64
	Remaining int64
}
