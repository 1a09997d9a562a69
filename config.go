package recovery

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pwm-project/pwm-sub000/password"
	"github.com/pwm-project/pwm-sub000/session"
)

// Config is the complete engine configuration. It is cloned at Build and never mutated
// afterwards.
type Config struct {
	Profiles       map[string]ProfileConfig `toml:"profiles"`
	DefaultProfile string                   `toml:"default_profile"`
	Token          TokenConfig              `toml:"token"`
	Intruder       IntruderConfig           `toml:"intruder"`
	PreviousAuth   PreviousAuthConfig       `toml:"previous_auth"`
	NewPassword    NewPasswordConfig        `toml:"new_password"`
	OTP            OTPConfig                `toml:"otp"`
	Session        SessionConfig            `toml:"session"`
	Notification   NotificationConfig       `toml:"notification"`
	Audit          AuditConfig              `toml:"audit"`
	Metrics        MetricsConfig            `toml:"metrics"`
}

/*
====================================
PROFILE CONFIG
====================================
*/

// ProfileConfig is one recovery profile: which methods verify a user and what happens
// once they pass.
type ProfileConfig struct {
	RequiredMethods     session.MethodSet      `toml:"required_methods"`
	OptionalMethods     session.MethodSet      `toml:"optional_methods"`
	MinOptionalRequired int                    `toml:"min_optional_required"`
	TokenChannelPolicy  session.ChannelPolicy  `toml:"token_channel_policy"`
	AllowWhenLocked     bool                   `toml:"allow_when_locked"`
	TerminalAction      session.TerminalAction `toml:"terminal_action"`
	AllowUnlockChoice   bool                   `toml:"allow_unlock_choice"`

	// SearchAttributes are the identification form fields passed to Directory.Search.
	SearchAttributes []string                       `toml:"search_attributes"`
	Attributes       []session.AttributeRequirement `toml:"attributes"`
	Challenge        session.ChallengePolicy        `toml:"challenge"`

	// PostRecoveryWrites are directory attribute writes queued as a deferred action and
	// applied once the new password is set.
	PostRecoveryWrites map[string]string `toml:"post_recovery_writes"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls out-of-band token codes.
type TokenConfig struct {
	Name        string        `toml:"name"`
	RedisPrefix string        `toml:"redis_prefix"`
	TTL         time.Duration `toml:"ttl"`
	CodeLength  int           `toml:"code_length"`
	Charset     string        `toml:"charset"`

	// FingerprintKey keys the HMAC over the password-change attribute bound into tokens.
	FingerprintKey []byte `toml:"-"`
	// PasswordChangeAttribute is the directory attribute that changes with every password set.
	PasswordChangeAttribute string `toml:"password_change_attribute"`
}

/*
====================================
INTRUDER CONFIG
====================================
*/

// IntruderConfig sets failure thresholds per subject kind. A zero threshold counts
// without locking.
type IntruderConfig struct {
	Enabled            bool          `toml:"enabled"`
	RedisPrefix        string        `toml:"redis_prefix"`
	MaxUserAttempts    int           `toml:"max_user_attempts"`
	MaxAddressAttempts int           `toml:"max_address_attempts"`
	MaxSessionAttempts int           `toml:"max_session_attempts"`
	Window             time.Duration `toml:"window"`
}

/*
====================================
PREVIOUS AUTH CONFIG
====================================
*/

// PreviousAuthConfig configures signed authentication records. Keys are loaded from the
// environment, never from the config file.
type PreviousAuthConfig struct {
	Enabled       bool          `toml:"enabled"`
	SigningMethod string        `toml:"signing_method"` // "ed25519" (default), "hs256" optional
	RecordTTL     time.Duration `toml:"record_ttl"`
	Issuer        string        `toml:"issuer"`
	Leeway        time.Duration `toml:"leeway"`
	PrivateKey    []byte        `toml:"-"`
	PublicKey     []byte        `toml:"-"`
}

/*
====================================
NEW PASSWORD CONFIG
====================================
*/

// NewPasswordConfig applies to the send-new-password actions.
type NewPasswordConfig struct {
	Policy        password.Policy       `toml:"policy"`
	ChannelPolicy session.ChannelPolicy `toml:"channel_policy"`
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig defines a public type used by recovery APIs.
//
// OTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OTPConfig struct {
	Skew      uint `toml:"skew"`
	LookAhead int  `toml:"look_ahead"`
	Period    uint `toml:"period"`
	Digits    int  `toml:"digits"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls recovery session storage.
type SessionConfig struct {
	RedisPrefix   string        `toml:"redis_prefix"`
	TTL           time.Duration `toml:"ttl"`
	DeferredTTL   time.Duration `toml:"deferred_ttl"`
	DefaultLocale string        `toml:"default_locale"`
}

/*
====================================
NOTIFICATION CONFIG
====================================
*/

// NotificationConfig names the directory attributes holding destinations and the message
// templates.
//
// Message bodies use the placeholders {code}, {password} and {user}.
type NotificationConfig struct {
	EmailAttribute string `toml:"email_attribute"`
	SMSAttribute   string `toml:"sms_attribute"`
	EmailFrom      string `toml:"email_from"`

	TokenEmailSubject    string `toml:"token_email_subject"`
	TokenEmailBody       string `toml:"token_email_body"`
	TokenSMSBody         string `toml:"token_sms_body"`
	PasswordEmailSubject string `toml:"password_email_subject"`
	PasswordEmailBody    string `toml:"password_email_body"`
	PasswordSMSBody      string `toml:"password_sms_body"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by recovery APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

// MetricsConfig toggles counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

// DefaultConfig returns the baseline configuration with a single "default" profile that
// requires challenge responses.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Profiles: map[string]ProfileConfig{
			"default": {
				RequiredMethods:    session.NewMethodSet(session.MethodChallengeResponses),
				TokenChannelPolicy: session.PolicyEmailFirst,
				TerminalAction:     session.TerminalInteractiveReset,
				SearchAttributes:   []string{"username"},
				Challenge: session.ChallengePolicy{
					MinRequired: 0,
					MinRandom:   2,
				},
			},
		},
		DefaultProfile: "default",
		Token: TokenConfig{
			Name:                    "recovery-token",
			RedisPrefix:             "rtk",
			TTL:                     15 * time.Minute,
			CodeLength:              8,
			Charset:                 "23456789ABCDEFGHJKLMNPQRSTUVWXYZ",
			PasswordChangeAttribute: "pwdChangedTime",
		},
		Intruder: IntruderConfig{
			Enabled:            true,
			RedisPrefix:        "rin",
			MaxUserAttempts:    5,
			MaxAddressAttempts: 20,
			MaxSessionAttempts: 10,
			Window:             15 * time.Minute,
		},
		PreviousAuth: PreviousAuthConfig{
			Enabled:       false,
			SigningMethod: "ed25519",
			RecordTTL:     30 * time.Minute,
			Issuer:        "recovery",
			Leeway:        30 * time.Second,
		},
		NewPassword: NewPasswordConfig{
			Policy:        password.DefaultPolicy(),
			ChannelPolicy: session.PolicyEmailFirst,
		},
		OTP: OTPConfig{
			Skew:      1,
			LookAhead: 10,
			Period:    30,
			Digits:    6,
		},
		Session: SessionConfig{
			RedisPrefix:   "rss",
			TTL:           30 * time.Minute,
			DeferredTTL:   24 * time.Hour,
			DefaultLocale: "en",
		},
		Notification: NotificationConfig{
			EmailAttribute:       "mail",
			SMSAttribute:         "mobile",
			EmailFrom:            "noreply@localhost",
			TokenEmailSubject:    "Your account recovery code",
			TokenEmailBody:       "Hello {user},\n\nyour recovery code is {code}\n",
			TokenSMSBody:         "Your recovery code is {code}",
			PasswordEmailSubject: "Your new password",
			PasswordEmailBody:    "Hello {user},\n\nyour new password is {password}\n",
			PasswordSMSBody:      "Your new password is {password}",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// LoadConfigFile decodes a TOML file on top of [DefaultConfig]. Profiles present in the
// file replace the default profile set entirely.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(string(data))
}

// ParseConfig decodes TOML text on top of [DefaultConfig].
func ParseConfig(text string) (Config, error) {
	cfg := defaultConfig()
	var probe struct {
		Profiles map[string]toml.Primitive `toml:"profiles"`
	}
	md, err := toml.Decode(text, &probe)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if len(probe.Profiles) > 0 {
		cfg.Profiles = make(map[string]ProfileConfig, len(probe.Profiles))
	}

	md, err = toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrConfiguration, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.FingerprintKey = cloneBytes(cfg.Token.FingerprintKey)
	out.PreviousAuth.PrivateKey = cloneBytes(cfg.PreviousAuth.PrivateKey)
	out.PreviousAuth.PublicKey = cloneBytes(cfg.PreviousAuth.PublicKey)

	if cfg.Profiles != nil {
		out.Profiles = make(map[string]ProfileConfig, len(cfg.Profiles))
		for id, p := range cfg.Profiles {
			out.Profiles[id] = cloneProfile(p)
		}
	}
	return out
}

func cloneProfile(p ProfileConfig) ProfileConfig {
	out := p
	out.RequiredMethods = p.RequiredMethods.Clone()
	out.OptionalMethods = p.OptionalMethods.Clone()
	out.SearchAttributes = append([]string(nil), p.SearchAttributes...)
	out.Attributes = append([]session.AttributeRequirement(nil), p.Attributes...)
	if p.PostRecoveryWrites != nil {
		out.PostRecoveryWrites = make(map[string]string, len(p.PostRecoveryWrites))
		for k, v := range p.PostRecoveryWrites {
			out.PostRecoveryWrites[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks structural configuration errors. A profile whose MinOptionalRequired
// exceeds its optional method count is accepted here; sessions under it end with a
// configuration error once progress proves the quorum unreachable. [Config.Lint] reports it.
func (c *Config) Validate() error {
	// Profiles
	if len(c.Profiles) == 0 {
		return errors.New("at least one recovery profile is required")
	}
	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		return errors.New("DefaultProfile must name a configured profile")
	}
	for id, p := range c.Profiles {
		if strings.TrimSpace(id) == "" {
			return errors.New("profile id must not be blank")
		}
		if err := validateProfile(id, p); err != nil {
			return err
		}
	}

	// Token
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	if c.Token.CodeLength < 6 {
		return errors.New("Token CodeLength must be >= 6")
	}
	if len(c.Token.Charset) < 10 {
		return errors.New("Token Charset must contain at least 10 characters")
	}
	if c.Token.RedisPrefix == "" {
		return errors.New("Token RedisPrefix must not be empty")
	}
	if c.usesMethod(session.MethodToken) && len(c.Token.FingerprintKey) < 16 {
		return errors.New("Token FingerprintKey must be >= 16 bytes when TOKEN is configured")
	}

	// Intruder
	if c.Intruder.Enabled {
		if c.Intruder.Window <= 0 {
			return errors.New("Intruder Window must be > 0")
		}
		if c.Intruder.MaxUserAttempts <= 0 || c.Intruder.MaxAddressAttempts <= 0 || c.Intruder.MaxSessionAttempts <= 0 {
			return errors.New("Intruder attempt thresholds must be > 0")
		}
	}

	// Previous auth
	if c.PreviousAuth.Enabled {
		if c.PreviousAuth.RecordTTL <= 0 {
			return errors.New("PreviousAuth RecordTTL must be > 0")
		}
		switch c.PreviousAuth.SigningMethod {
		case "ed25519":
			if len(c.PreviousAuth.PublicKey) == 0 {
				return errors.New("ed25519 requires PublicKey")
			}
		case "hs256":
			if len(c.PreviousAuth.PrivateKey) < 32 {
				return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
			}
		default:
			return errors.New("unsupported PreviousAuth signing method")
		}
		if c.PreviousAuth.Leeway < 0 || c.PreviousAuth.Leeway > 2*time.Minute {
			return errors.New("PreviousAuth Leeway must be between 0 and 2m")
		}
	} else if c.requiresMethod(session.MethodPreviousAuth) {
		return errors.New("PREVIOUS_AUTH is required by a profile but PreviousAuth is disabled")
	}

	// New password
	if c.sendsNewPassword() {
		if err := c.NewPassword.Policy.Validate(); err != nil {
			return fmt.Errorf("NewPassword Policy: %w", err)
		}
		if c.NewPassword.ChannelPolicy == session.PolicyNone || c.NewPassword.ChannelPolicy == session.PolicyChoice {
			return errors.New("NewPassword ChannelPolicy must name a fixed channel order")
		}
	}

	// OTP
	if c.OTP.Digits != 0 && (c.OTP.Digits < 6 || c.OTP.Digits > 8) {
		return errors.New("OTP Digits must be between 6 and 8")
	}
	if c.OTP.LookAhead < 0 {
		return errors.New("OTP LookAhead must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.DeferredTTL <= 0 {
		return errors.New("Session DeferredTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func validateProfile(id string, p ProfileConfig) error {
	if len(p.RequiredMethods) == 0 && len(p.OptionalMethods) == 0 {
		return fmt.Errorf("profile %q must configure at least one verification method", id)
	}
	if p.MinOptionalRequired < 0 {
		return fmt.Errorf("profile %q MinOptionalRequired must be >= 0", id)
	}
	for _, m := range append(p.RequiredMethods.Clone(), p.OptionalMethods...) {
		if m == session.MethodNone {
			return fmt.Errorf("profile %q lists an empty method", id)
		}
	}
	for _, m := range p.RequiredMethods {
		if p.OptionalMethods.Contains(m) {
			return fmt.Errorf("profile %q lists %s as both required and optional", id, m)
		}
	}
	if p.Challenge.MinRequired < 0 || p.Challenge.MinRandom < 0 {
		return fmt.Errorf("profile %q challenge policy must be >= 0", id)
	}
	if len(p.SearchAttributes) == 0 {
		return fmt.Errorf("profile %q must declare SearchAttributes", id)
	}
	return nil
}

func (c *Config) usesMethod(m session.Method) bool {
	for _, p := range c.Profiles {
		if p.RequiredMethods.Contains(m) || p.OptionalMethods.Contains(m) {
			return true
		}
	}
	return false
}

func (c *Config) requiresMethod(m session.Method) bool {
	for _, p := range c.Profiles {
		if p.RequiredMethods.Contains(m) {
			return true
		}
	}
	return false
}

func (c *Config) sendsNewPassword() bool {
	for _, p := range c.Profiles {
		if p.TerminalAction.SendsNewPassword() {
			return true
		}
	}
	return false
}
