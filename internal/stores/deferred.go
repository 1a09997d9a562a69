package stores

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/redis/go-redis/v9"
)

var ErrDeferredRedisUnavailable = errors.New("deferred action redis unavailable")

// DeferredAction is a named unit of work bound to one user that must run once the
// user's new password is in place.
type DeferredAction struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Identity session.Identity  `json:"identity"`
	Writes   map[string]string `json:"writes,omitempty"`
	QueuedAt int64             `json:"queued_at"`
}

type DeferredActionStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewDeferredActionStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *DeferredActionStore {
	if prefix == "" {
		prefix = "rda"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DeferredActionStore{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *DeferredActionStore) key(identity session.Identity) string {
	if identity.GUID != "" {
		return s.prefix + ":g:" + identity.GUID
	}
	return s.prefix + ":dn:" + identity.UserDN
}

// Enqueue appends action to the user's queue and refreshes the queue TTL.
func (s *DeferredActionStore) Enqueue(ctx context.Context, action DeferredAction) (DeferredAction, error) {
	if action.Identity.IsZero() {
		return action, errors.New("deferred action identity required")
	}
	if action.ID == "" {
		action.ID = ulid.MustNew(ulid.Now(), rand.Reader).String()
	}
	if action.QueuedAt == 0 {
		action.QueuedAt = time.Now().Unix()
	}

	encoded, err := json.Marshal(action)
	if err != nil {
		return action, err
	}

	key := s.key(action.Identity)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, encoded)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return action, fmt.Errorf("%w: %v", ErrDeferredRedisUnavailable, err)
	}
	return action, nil
}

// Drain removes and returns every queued action for identity. Concurrent drains never
// return the same action twice.
func (s *DeferredActionStore) Drain(ctx context.Context, identity session.Identity) ([]DeferredAction, error) {
	key := s.key(identity)

	var lrange *redis.StringSliceCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeferredRedisUnavailable, err)
	}

	raw, err := lrange.Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeferredRedisUnavailable, err)
	}

	actions := make([]DeferredAction, 0, len(raw))
	for _, item := range raw {
		var action DeferredAction
		if err := json.Unmarshal([]byte(item), &action); err != nil {
			continue
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Pending returns the number of queued actions without consuming them.
func (s *DeferredActionStore) Pending(ctx context.Context, identity session.Identity) (int, error) {
	n, err := s.redis.LLen(ctx, s.key(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeferredRedisUnavailable, err)
	}
	return int(n), nil
}
