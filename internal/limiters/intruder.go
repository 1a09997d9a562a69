package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrIntruderUnavailable indicates the intruder backend is unreachable.
	ErrIntruderUnavailable = errors.New("intruder backend unavailable")
)

// SubjectKind is what a failure counter is attached to.
type SubjectKind uint8

const (
	SubjectUser SubjectKind = iota + 1
	SubjectAddress
	SubjectSession
)

func (k SubjectKind) String() string {
	switch k {
	case SubjectUser:
		return "user"
	case SubjectAddress:
		return "address"
	case SubjectSession:
		return "session"
	default:
		return "unknown"
	}
}

// Subject names one counted entity.
type Subject struct {
	Kind  SubjectKind
	Value string
}

// IntruderConfig holds thresholds per subject kind. A threshold of 0 disables locking
// for that kind while still counting.
type IntruderConfig struct {
	Enabled            bool
	Prefix             string
	MaxUserAttempts    int
	MaxAddressAttempts int
	MaxSessionAttempts int
	Window             time.Duration
}

// IntruderLimiter counts failed verification attempts.
type IntruderLimiter struct {
	redis  redis.UniversalClient
	config IntruderConfig
}

// NewIntruderLimiter creates a new intruder limiter.
func NewIntruderLimiter(redisClient redis.UniversalClient, cfg IntruderConfig) *IntruderLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rit"
	}
	return &IntruderLimiter{redis: redisClient, config: cfg}
}

func (l *IntruderLimiter) key(subject Subject) string {
	return l.config.Prefix + ":" + subject.Kind.String() + ":" + strings.ToLower(subject.Value)
}

func (l *IntruderLimiter) threshold(kind SubjectKind) int {
	switch kind {
	case SubjectUser:
		return l.config.MaxUserAttempts
	case SubjectAddress:
		return l.config.MaxAddressAttempts
	case SubjectSession:
		return l.config.MaxSessionAttempts
	default:
		return 0
	}
}

func (l *IntruderLimiter) active(subject Subject) bool {
	return l != nil && l.config.Enabled && subject.Value != ""
}

// Mark records one failure. Returns true when the subject is now locked.
func (l *IntruderLimiter) Mark(ctx context.Context, subject Subject) (bool, error) {
	if !l.active(subject) {
		return false, nil
	}

	key := l.key(subject)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIntruderUnavailable, err)
	}

	if count == 1 && l.config.Window > 0 {
		// Window starts at the first failure.
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrIntruderUnavailable, err)
		}
	}

	max := l.threshold(subject.Kind)
	return max > 0 && count >= int64(max), nil
}

// Clear removes the failure counter for a subject.
func (l *IntruderLimiter) Clear(ctx context.Context, subject Subject) error {
	if !l.active(subject) {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrIntruderUnavailable, err)
	}
	return nil
}

// Count returns the current failure count for a subject.
func (l *IntruderLimiter) Count(ctx context.Context, subject Subject) (int, error) {
	if !l.active(subject) {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrIntruderUnavailable, err)
	}
	return int(count), nil
}

// IsLocked reports whether the subject's counter has reached its threshold.
func (l *IntruderLimiter) IsLocked(ctx context.Context, subject Subject) (bool, error) {
	max := 0
	if l != nil {
		max = l.threshold(subject.Kind)
	}
	if max <= 0 {
		return false, nil
	}
	count, err := l.Count(ctx, subject)
	if err != nil {
		return false, err
	}
	return count >= max, nil
}
