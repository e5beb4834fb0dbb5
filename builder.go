package accounts

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/studydeck/accounts/internal/audit"
	"github.com/studydeck/accounts/internal/limiters"
	"github.com/studydeck/accounts/internal/logging"
	"github.com/studydeck/accounts/internal/rate"
	"github.com/studydeck/accounts/internal/stores"
	"github.com/studydeck/accounts/internal/stores/postgres"
	"github.com/studydeck/accounts/jwt"
	"github.com/studydeck/accounts/password"
)

// Builder assembles an Engine. Builder instances are configured during
// initialization and can build exactly one Engine.
type Builder struct {
	config Config

	redis     redis.UniversalClient
	sqlDB     *sql.DB
	store     Store
	rateCache RateCache

	logger     *slog.Logger
	mailer     Mailer
	clock      Clock
	random     io.Reader
	auditSinks []AuditSink
	newID      func() string

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The config is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs both the document store and the rate cache with client,
// unless WithStore, WithPostgres or WithRateCache override them.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres selects the Postgres document store. The schema must have
// been migrated (see accountsctl migrate).
func (b *Builder) WithPostgres(db *sql.DB) *Builder {
	b.sqlDB = db
	return b
}

func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithRateCache(cache RateCache) *Builder {
	b.rateCache = cache
	return b
}

// WithLogger sets the structured logger. Without one, logs are discarded.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithRandom replaces crypto/rand as the source of salts and peppers.
// Intended for tests.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

// WithAuditSink adds a sink. Events reach sinks only when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	if sink != nil {
		b.auditSinks = append(b.auditSinks, sink)
	}
	return b
}

// WithIDGenerator replaces uuid.NewString for user and verification ids.
func (b *Builder) WithIDGenerator(fn func() string) *Builder {
	b.newID = fn
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := b.store
	switch {
	case store != nil:
	case b.sqlDB != nil:
		store = postgres.New(b.sqlDB)
	case b.redis != nil:
		store = stores.NewRedisStore(b.redis, cfg.Store.KeyPrefix)
	default:
		return nil, errors.New("a store is required: use WithRedis, WithPostgres or WithStore")
	}

	cache := b.rateCache
	if cache == nil && b.redis != nil {
		cache = rate.New(b.redis, cfg.Store.KeyPrefix)
	}
	if cache == nil && cfg.SignIn.MaxPasswordAttempts > 0 {
		return nil, errors.New("sign-in lockout requires a rate cache: use WithRedis or WithRateCache")
	}

	random := b.random
	if random == nil {
		random = rand.Reader
	}

	// -------- PASSWORD VERSIONS --------
	registry := password.NewRegistry()
	for _, v := range cfg.Password.CustomVersions {
		if err := registry.Register(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}
	hasher, err := password.NewHasher(registry, cfg.Password.CurrentVersion, random)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	log := logging.Discard()
	if b.logger != nil {
		log = logging.NewSlogLogger(b.logger)
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		store:    store,
		registry: registry,
		hasher:   hasher,
		mailer:   b.mailer,
		clock:    b.clock,
		random:   random,
		newID:    b.newID,
		log:      log,
		metrics:  NewMetrics(cfg.Metrics),
	}
	if engine.newID == nil {
		engine.newID = uuid.NewString
	}
	if engine.mailer == nil {
		engine.mailer = MailerFunc(func(ctx context.Context, m Mail) error {
			log.Warn(ctx, "no mailer configured; verification mail dropped",
				"user_id", m.UserID, "purpose", m.Token.Purpose.String())
			return nil
		})
	}

	// -------- SESSIONS --------
	if len(cfg.Session.PrivateKey) > 0 {
		sessions, err := jwt.NewManager(jwt.Config{
			TTL:           cfg.Session.TTL,
			SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
			PublicKey:     cloneBytes(cfg.Session.PublicKey),
			Issuer:        cfg.Session.Issuer,
			Audience:      cfg.Session.Audience,
			Leeway:        cfg.Session.Leeway,
			KeyID:         cfg.Session.KeyID,
			Now:           engine.now,
		})
		if err != nil {
			return nil, err
		}
		engine.sessions = sessions
	} else {
		log.Info(context.Background(), "no session signing key configured; sign-in cannot issue sessions")
	}

	// -------- LIMITERS --------
	if cache != nil {
		engine.signInLimiter = limiters.NewSignInLimiter(cache, limiters.SignInConfig{
			Window: cfg.SignIn.AttemptWindow,
		})
		engine.resendLimiter = limiters.NewResendLimiter(cache, limiters.ResendConfig{
			Cooldown: cfg.Verification.ResendCooldown,
		})
	}

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSinks...)

	b.built = true

	return engine, nil
}
