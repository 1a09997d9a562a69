package recovery

import (
	"errors"

	"github.com/pwm-project/pwm-sub000/internal/audit"
	"github.com/pwm-project/pwm-sub000/internal/flows"
	"github.com/pwm-project/pwm-sub000/internal/limiters"
	"github.com/pwm-project/pwm-sub000/internal/stores"
	"github.com/pwm-project/pwm-sub000/jwt"
	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/password"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PasswordGenerator produces policy-compliant random passwords.
type PasswordGenerator interface {
	Generate() (string, error)
}

// Builder defines a public type used by recovery APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory     Directory
	notifier      Notifier
	otpService    OTPService
	tokens        TokenStore
	intruder      IntruderGuard
	authenticator Authenticator
	generator     PasswordGenerator
	auditSink     AuditSink
	logger        *logrus.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, tokens, deferred actions and intruder counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithOTPService overrides the default OTP service. Without one, a Directory that also
// implements [otp.RecordStore] is wrapped in an [otp.Service].
func (b *Builder) WithOTPService(s OTPService) *Builder {
	b.otpService = s
	return b
}

// WithTokenStore replaces the Redis token store.
func (b *Builder) WithTokenStore(s TokenStore) *Builder {
	b.tokens = s
	return b
}

// WithIntruderGuard replaces the Redis intruder counters.
func (b *Builder) WithIntruderGuard(g IntruderGuard) *Builder {
	b.intruder = g
	return b
}

func (b *Builder) WithAuthenticator(a Authenticator) *Builder {
	b.authenticator = a
	return b
}

func (b *Builder) WithPasswordGenerator(g PasswordGenerator) *Builder {
	b.generator = g
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. The default is logrus.StandardLogger().
func (b *Builder) WithLogger(logger *logrus.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A Builder can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.notifier == nil && (cfg.usesMethod(session.MethodToken) || cfg.sendsNewPassword()) {
		return nil, errors.New("notifier required when TOKEN or a send-new-password action is configured")
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	engine := &Engine{
		config:        cloneConfig(cfg),
		directory:     b.directory,
		notifier:      b.notifier,
		authenticator: b.authenticator,
		logger:        logger,
		sessions:      session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TTL),
		deferred:      stores.NewDeferredActionStore(b.redis, cfg.Session.RedisPrefix+":da", cfg.Session.DeferredTTL),
		metrics:       NewMetrics(cfg.Metrics),
	}

	// -------- TOKENS --------
	engine.tokens = b.tokens
	if engine.tokens == nil {
		engine.tokens = stores.NewTokenStore(b.redis, stores.TokenStoreConfig{
			Prefix:     cfg.Token.RedisPrefix,
			TTL:        cfg.Token.TTL,
			CodeLength: cfg.Token.CodeLength,
			Charset:    cfg.Token.Charset,
		})
	}

	// -------- INTRUDER --------
	engine.intruder = b.intruder
	if engine.intruder == nil {
		engine.intruder = &redisIntruderGuard{limiter: limiters.NewIntruderLimiter(b.redis, limiters.IntruderConfig{
			Enabled:            cfg.Intruder.Enabled,
			Prefix:             cfg.Intruder.RedisPrefix,
			MaxUserAttempts:    cfg.Intruder.MaxUserAttempts,
			MaxAddressAttempts: cfg.Intruder.MaxAddressAttempts,
			MaxSessionAttempts: cfg.Intruder.MaxSessionAttempts,
			Window:             cfg.Intruder.Window,
		})}
	}

	// -------- OTP --------
	engine.otp = b.otpService
	if engine.otp == nil {
		if records, ok := b.directory.(otp.RecordStore); ok {
			engine.otp = otp.NewService(records, otp.Config{
				Skew:      cfg.OTP.Skew,
				LookAhead: cfg.OTP.LookAhead,
				Period:    cfg.OTP.Period,
				Digits:    cfg.OTP.Digits,
			})
		} else if cfg.usesMethod(session.MethodOTP) {
			return nil, errors.New("OTP is configured but no OTP service or record store is available")
		}
	}

	// -------- NEW PASSWORDS --------
	engine.generator = b.generator
	if engine.generator == nil {
		gen, err := password.NewGenerator(cfg.NewPassword.Policy)
		if err != nil {
			return nil, err
		}
		engine.generator = gen
	}

	// -------- AUTHENTICATION RECORDS --------
	if cfg.PreviousAuth.Enabled {
		jm, err := jwt.NewManager(jwt.Config{
			RecordTTL:     cfg.PreviousAuth.RecordTTL,
			SigningMethod: jwt.SigningMethod(cfg.PreviousAuth.SigningMethod),
			PrivateKey:    cloneBytes(cfg.PreviousAuth.PrivateKey),
			PublicKey:     cloneBytes(cfg.PreviousAuth.PublicKey),
			Issuer:        cfg.PreviousAuth.Issuer,
			Leeway:        cfg.PreviousAuth.Leeway,
		})
		if err != nil {
			return nil, err
		}
		engine.authRecords = jm
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine.registry = flows.NewRegistry(engine.methodDeps())

	b.built = true

	return engine, nil
}
