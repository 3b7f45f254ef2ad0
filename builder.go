package authcore

import (
	"errors"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

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

// Builder assembles an Engine from its configuration and
// collaborators. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *slog.Logger

	identities    IdentityStore
	subscriptions SubscriptionStore
	sender        NotificationSender
	metrics       *metrics.Metrics
	hasherParams  *password.Params

	built bool
}

// New returns a Builder preloaded with default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the full configuration. Zero fields are filled
// with defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithSecret sets the HS256 signing key without replacing the rest of
// the configuration.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.Token.Secret = secret
	return b
}

// WithRedis sets the Redis client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the relational identity lookup. Required.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithSubscriptionStore sets the plan resolver used by quota checks.
// Optional; without it CheckQuota returns an error.
func (b *Builder) WithSubscriptionStore(store SubscriptionStore) *Builder {
	b.subscriptions = store
	return b
}

// WithNotificationSender sets the verification code deliverer.
// Optional; without it SendVerifyCode returns an error.
func (b *Builder) WithNotificationSender(sender NotificationSender) *Builder {
	b.sender = sender
	return b
}

// WithLogger sets the structured logger. Without it logs are dropped.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics sets the Prometheus counter set. Optional.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithPasswordParams overrides the argon2id cost parameters used when
// verifying and re-hashing passwords.
func (b *Builder) WithPasswordParams(p password.Params) *Builder {
	b.hasherParams = &p
	return b
}

// Build validates the configuration and wires the engine. It returns
// an error rather than a partially usable engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}

	cfg := b.config
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	codec, err := token.NewCodec(token.Config{
		Secret: cfg.Token.Secret,
		Issuer: cfg.Token.Issuer,
		Leeway: cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasherParams := password.DefaultParams()
	if b.hasherParams != nil {
		hasherParams = *b.hasherParams
	}
	hasher, err := password.NewHasher(hasherParams)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:        cfg,
		logger:        logger,
		metrics:       b.metrics,
		identities:    b.identities,
		subscriptions: b.subscriptions,
		sender:        b.sender,
		codec:         codec,
		hasher:        hasher,
		tokens:        tokenstore.NewStore(b.redis, cfg.Namespace, cfg.Refresh.GracePeriod),
		quotas:        quota.NewLedger(b.redis, cfg.Namespace, logger),
		counters:      counter.NewLedger(b.redis, cfg.Namespace, logger),
		loginLimiter:  rate.NewFixedWindow(b.redis, cfg.Namespace, logger),
		sendLimiter:   rate.NewSlidingWindow(b.redis, cfg.Namespace, logger),
		blocklist:     ipblock.NewList(b.redis, cfg.Namespace, logger),
		verifications: stores.NewVerificationStore(b.redis, cfg.Namespace),
	}, nil
}

// applyDefaults fills zero fields so a partially specified Config is
// usable without repeating the defaults at every call site.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.Token.AccessTTL == 0 {
		cfg.Token.AccessTTL = def.Token.AccessTTL
	}
	if cfg.Token.RefreshTTL == 0 {
		cfg.Token.RefreshTTL = def.Token.RefreshTTL
	}
	if cfg.Refresh.GracePeriod == 0 {
		cfg.Refresh.GracePeriod = def.Refresh.GracePeriod
	}
	if cfg.Login.MaxAttempts == 0 {
		cfg.Login.MaxAttempts = def.Login.MaxAttempts
	}
	if cfg.Login.Window == 0 {
		cfg.Login.Window = def.Login.Window
	}
	if cfg.Login.BlockDuration == 0 {
		cfg.Login.BlockDuration = def.Login.BlockDuration
	}
	if cfg.Verification.CodeLength == 0 {
		cfg.Verification.CodeLength = def.Verification.CodeLength
	}
	if cfg.Verification.CodeTTL == 0 {
		cfg.Verification.CodeTTL = def.Verification.CodeTTL
	}
	if cfg.Verification.SendLimit == 0 {
		cfg.Verification.SendLimit = def.Verification.SendLimit
	}
	if cfg.Verification.SendWindow == 0 {
		cfg.Verification.SendWindow = def.Verification.SendWindow
	}
	if cfg.Verification.MaxAttempts == 0 {
		cfg.Verification.MaxAttempts = def.Verification.MaxAttempts
	}
	if cfg.Verification.SendRetries == 0 {
		cfg.Verification.SendRetries = def.Verification.SendRetries
	}
	if cfg.Verification.RetryBackoff == 0 {
		cfg.Verification.RetryBackoff = def.Verification.RetryBackoff
	}
}
