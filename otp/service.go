package otp

import (
	"context"
	"errors"
	"strings"
	"time"

	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
	"github.com/pwm-project/pwm-sub000/session"
)

// Kind distinguishes time-based from counter-based records.
type Kind uint8

const (
	KindTOTP Kind = iota
	KindHOTP
)

// Record is a user's stored OTP enrollment.
type Record struct {
	Kind      Kind   `json:"kind" dynamodbav:"kind"`
	Secret    string `json:"secret" dynamodbav:"secret"`
	Counter   uint64 `json:"counter,omitempty" dynamodbav:"counter"`
	Digits    int    `json:"digits,omitempty" dynamodbav:"digits"`
	Algorithm string `json:"algorithm,omitempty" dynamodbav:"algorithm"`
	Period    uint   `json:"period,omitempty" dynamodbav:"period"`
}

// RecordStore reads and updates OTP records.
type RecordStore interface {
	ReadOTPRecord(ctx context.Context, identity session.Identity) (Record, bool, error)
	UpdateOTPCounter(ctx context.Context, identity session.Identity, counter uint64) error
}

// Config tunes validation windows.
type Config struct {
	Skew         uint
	LookAhead    int
	RepairWindow int
	Period       uint
	Digits       int
}

var ErrNotConfigured = errors.New("otp record store not configured")

// Service validates codes against records from a RecordStore.
type Service struct {
	store  RecordStore
	config Config
	now    func() time.Time
}

// NewService returns a Service with defaults for unset config fields.
func NewService(store RecordStore, cfg Config) *Service {
	if cfg.Skew == 0 {
		cfg.Skew = 1
	}
	if cfg.LookAhead <= 0 {
		cfg.LookAhead = 5
	}
	if cfg.RepairWindow < cfg.LookAhead {
		cfg.RepairWindow = 50
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	return &Service{store: store, config: cfg, now: time.Now}
}

// ReadRecord returns the user's record, ok=false when none is enrolled.
func (s *Service) ReadRecord(ctx context.Context, identity session.Identity) (Record, bool, error) {
	if s == nil || s.store == nil {
		return Record{}, false, ErrNotConfigured
	}
	return s.store.ReadOTPRecord(ctx, identity)
}

// Validate checks code against record.
func (s *Service) Validate(ctx context.Context, identity session.Identity, record Record, code string, allowRepair bool) (bool, error) {
	if s == nil || s.store == nil {
		return false, ErrNotConfigured
	}
	code = strings.TrimSpace(code)
	if code == "" || record.Secret == "" {
		return false, nil
	}

	digits := potp.Digits(s.config.Digits)
	if record.Digits > 0 {
		digits = potp.Digits(record.Digits)
	}
	algorithm := parseAlgorithm(record.Algorithm)

	switch record.Kind {
	case KindHOTP:
		window := s.config.LookAhead
		if allowRepair {
			window = s.config.RepairWindow
		}
		for i := 0; i <= window; i++ {
			counter := record.Counter + uint64(i)
			ok, err := hotp.ValidateCustom(code, counter, record.Secret, hotp.ValidateOpts{
				Digits:    digits,
				Algorithm: algorithm,
			})
			if err != nil {
				return false, nil
			}
			if ok {
				if err := s.store.UpdateOTPCounter(ctx, identity, counter+1); err != nil {
					return false, err
				}
				return true, nil
			}
		}
		return false, nil
	default:
		period := s.config.Period
		if record.Period > 0 {
			period = record.Period
		}
		ok, err := totp.ValidateCustom(code, record.Secret, s.now().UTC(), totp.ValidateOpts{
			Period:    period,
			Skew:      s.config.Skew,
			Digits:    digits,
			Algorithm: algorithm,
		})
		if err != nil {
			return false, nil
		}
		return ok, nil
	}
}

func parseAlgorithm(name string) potp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return potp.AlgorithmSHA256
	case "SHA512":
		return potp.AlgorithmSHA512
	default:
		return potp.AlgorithmSHA1
	}
}
