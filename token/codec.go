package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the two credential classes issued by the codec.
type Kind string

const (
	// KindAccess is a short-lived bearer credential presented on every request.
	KindAccess Kind = "access"
	// KindRefresh is a long-lived credential exchanged for new token pairs.
	KindRefresh Kind = "refresh"
)

// ErrInvalidToken is returned by [Codec.Decode] for any credential that
// fails signature, format, kind, or identity validation. Callers cannot
// distinguish the failure cause by design.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed payload carried by every credential. All
// timestamps are millisecond epoch integers.
type Claims struct {
	UserID    int64  `json:"uid"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"exp_ms"`
	Kind      Kind   `json:"typ"`
	TokenID   string `json:"jti"`
	jwt.RegisteredClaims
}

// Config holds the codec's signing parameters.
type Config struct {
	// Secret is the shared HS256 signing key. Required.
	Secret []byte
	// Issuer is stamped into and required from every credential when set.
	Issuer string
	// Leeway tolerates clock skew during standard claim validation.
	Leeway time.Duration
}

// Codec signs and verifies bearer credentials. Issue and Decode are pure
// functions of their inputs, the current time, and the shared secret;
// liveness against revocation is the token store's concern, not the
// codec's.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a [Codec].
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a signing secret")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Codec{config: cfg}, nil
}

// Issue creates a signed credential for the identity with a fresh unique
// id. It returns the token string and its expiry as a millisecond epoch
// timestamp.
func (c *Codec) Issue(identity int64, email string, kind Kind, ttl time.Duration) (string, int64, error) {
	if identity < 1 {
		return "", 0, errors.New("identity must be positive")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", 0, errors.New("unknown token kind")
	}
	if ttl <= 0 {
		return "", 0, errors.New("ttl must be positive")
	}

	now := time.Now()
	expiresAt := now.UnixMilli() + ttl.Milliseconds()

	claims := Claims{
		UserID:    identity,
		Email:     email,
		ExpiresAt: expiresAt,
		Kind:      kind,
		TokenID:   uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.config.Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.Secret)
	if err != nil {
		return "", 0, err
	}
	return signed, expiresAt, nil
}

// Decode verifies the signature and shape of a credential and returns its
// claims. It fails closed: malformed input, a bad signature, an unknown
// kind, or a non-positive identity all yield [ErrInvalidToken], never a
// panic or a partially decoded result. Expiry comparisons are strict: a
// credential whose payload expiry is < now is rejected.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.config.Secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID < 1 {
		return nil, ErrInvalidToken
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt < time.Now().UnixMilli() {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
