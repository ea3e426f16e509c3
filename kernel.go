package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gopress-cms/auth/apikey"
	"github.com/gopress-cms/auth/audit"
	"github.com/gopress-cms/auth/id"
	"github.com/gopress-cms/auth/lockout"
	"github.com/gopress-cms/auth/metrics"
	"github.com/gopress-cms/auth/middleware"
	"github.com/gopress-cms/auth/password"
	"github.com/gopress-cms/auth/permission"
	"github.com/gopress-cms/auth/rate"
	"github.com/gopress-cms/auth/refresh"
	"github.com/gopress-cms/auth/session"
	"github.com/gopress-cms/auth/token"
)

// UserRecord is the credential material the host application stores per
// user. The kernel never persists users itself.
type UserRecord struct {
	ID           id.UserID
	PasswordHash string
	Roles        []string
}

// UserProvider resolves a login identifier to its credential record.
// Returning ErrNotFound keeps the kernel's response timing and error shape
// identical to a wrong password.
type UserProvider interface {
	Lookup(ctx context.Context, identifier string) (*UserRecord, error)
}

// UserProviderFunc adapts a function to UserProvider.
type UserProviderFunc func(ctx context.Context, identifier string) (*UserRecord, error)

func (f UserProviderFunc) Lookup(ctx context.Context, identifier string) (*UserRecord, error) {
	return f(ctx, identifier)
}

// Deps are the pluggable backends behind a Kernel. Only Keys and Users are
// required; nil stores fall back to in-memory implementations suitable for
// a single instance.
type Deps struct {
	Keys  *token.KeyRing
	Users UserProvider

	Roles *permission.Registry

	SessionStore session.Store
	RefreshStore refresh.Store
	RateStore    rate.CounterStore
	LockoutStore lockout.Store
	APIKeyStore  apikey.Store

	PasswordHasher *password.Hasher
	AuditSink      audit.Sink
}

// Kernel is the facade over every component: login with brute-force and
// rate protection, token pairs with rotation and theft detection, sessions,
// API keys, and permission checks.
type Kernel struct {
	cfg Config
	now func() time.Time

	tokens      *token.Manager
	sessions    *session.Manager
	refresh     *refresh.Manager
	apikeys     *apikey.Manager
	permissions *permission.Checker
	passwords   *password.Hasher
	limiter     *rate.Limiter
	lockouts    *lockout.BruteForce

	auditor *audit.Dispatcher
	metrics *metrics.Metrics

	users     UserProvider
	dummyHash string
}

// New assembles a Kernel. Config zero values take defaults; the assembled
// configuration must pass Validate.
func New(cfg Config, deps Deps) (*Kernel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Keys == nil {
		return nil, errors.New("key ring is required")
	}
	if deps.Users == nil {
		return nil, errors.New("user provider is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	tokens, err := token.NewManager(deps.Keys, token.Config{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Leeway:     cfg.Leeway,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	sessStore := deps.SessionStore
	if sessStore == nil {
		sessStore = session.NewMemoryStore()
	}
	sessions, err := session.NewManager(sessStore, session.Config{
		IdleTimeout:     cfg.IdleTimeout,
		AbsoluteTimeout: cfg.AbsoluteTimeout,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	mx := metrics.New(!cfg.DisableMetrics)
	auditor := audit.NewDispatcher(audit.Config{
		Enabled:    !cfg.DisableAudit,
		BufferSize: cfg.AuditBufferSize,
		DropIfFull: !cfg.AuditBlockIfFull,
	}, deps.AuditSink)

	refreshStore := deps.RefreshStore
	if refreshStore == nil {
		refreshStore = refresh.NewMemoryStore()
	}
	refreshMgr, err := refresh.NewManager(refreshStore, tokens,
		refresh.WithAudit(auditor),
		refresh.WithMetrics(mx),
		refresh.WithClock(now),
	)
	if err != nil {
		return nil, err
	}

	keyStore := deps.APIKeyStore
	if keyStore == nil {
		keyStore = apikey.NewMemoryStore()
	}
	apikeys, err := apikey.NewManager(keyStore,
		apikey.WithAudit(auditor),
		apikey.WithMetrics(mx),
		apikey.WithClock(now),
	)
	if err != nil {
		return nil, err
	}

	rateStore := deps.RateStore
	if rateStore == nil {
		rateStore = rate.NewMemoryCounterStore().WithClock(now)
	}
	limiter, err := rate.NewLimiter(rateStore, rate.Config{
		Capacity: cfg.LoginRateCapacity,
		Window:   cfg.LoginRateWindow,
	})
	if err != nil {
		return nil, err
	}

	lockStore := deps.LockoutStore
	if lockStore == nil {
		lockStore = lockout.NewMemoryStore().WithClock(now)
	}
	lockouts, err := lockout.New(lockStore, lockout.Config{
		FailureThreshold: cfg.FailureThreshold,
		Window:           cfg.LockoutWindow,
		BaseBackoff:      cfg.LockoutBaseBackoff,
		MaxBackoff:       cfg.LockoutMaxBackoff,
		Policy:           lockout.Policy(cfg.LockoutPolicy),
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	hasher := deps.PasswordHasher
	if hasher == nil {
		if hasher, err = password.NewHasher(password.DefaultConfig()); err != nil {
			return nil, err
		}
	}

	// Unknown identifiers burn the same argon2 work as wrong passwords.
	dummyHash, err := hasher.Hash("kernel-timing-equalizer")
	if err != nil {
		return nil, err
	}

	var checker *permission.Checker
	if deps.Roles != nil {
		checker = permission.NewChecker(deps.Roles)
	}

	return &Kernel{
		cfg:         cfg,
		now:         now,
		tokens:      tokens,
		sessions:    sessions,
		refresh:     refreshMgr,
		apikeys:     apikeys,
		permissions: checker,
		passwords:   hasher,
		limiter:     limiter,
		lockouts:    lockouts,
		auditor:     auditor,
		metrics:     mx,
		users:       deps.Users,
		dummyHash:   dummyHash,
	}, nil
}

// Close drains the audit pipeline. The kernel is unusable afterwards.
func (k *Kernel) Close() {
	k.auditor.Close()
}

// Tokens exposes the token manager for hosts that mint service tokens.
func (k *Kernel) Tokens() *token.Manager { return k.tokens }

// Sessions exposes the session manager.
func (k *Kernel) Sessions() *session.Manager { return k.sessions }

// APIKeys exposes the API key manager.
func (k *Kernel) APIKeys() *apikey.Manager { return k.apikeys }

// Metrics exposes the counter registry, e.g. for the otel exporter.
func (k *Kernel) Metrics() *metrics.Metrics { return k.metrics }

// Guard builds request middleware wired to this kernel's verifiers.
func (k *Kernel) Guard(order ...middleware.Method) (*middleware.Guard, error) {
	return middleware.NewGuard(middleware.Config{
		Tokens:   k.tokens,
		Sessions: k.sessions,
		APIKeys:  k.apikeys,
		Checker:  k.permissions,
		Order:    order,
		Auditor:  k.auditor,
		Metrics:  k.metrics,
	})
}
