package stores

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pwm-project/pwm-sub000/internal"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/redis/go-redis/v9"
)

const (
	tokenRecordVersionV1 = 1
)

var (
	ErrTokenRedisUnavailable = errors.New("token redis unavailable")
	ErrTokenCorrupt          = errors.New("token record corrupt")
)

type TokenStoreConfig struct {
	Prefix     string
	TTL        time.Duration
	CodeLength int
	Charset    string
}

// TokenStore keeps issued token payloads keyed by the hash of their user-facing code.
type TokenStore struct {
	redis  redis.UniversalClient
	config TokenStoreConfig
	now    func() time.Time
}

func NewTokenStore(redisClient redis.UniversalClient, cfg TokenStoreConfig) *TokenStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "rtk"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 8
	}
	if cfg.Charset == "" {
		cfg.Charset = internal.DefaultTokenCharset
	}
	return &TokenStore{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
	}
}

func (s *TokenStore) key(code string) string {
	h := internal.HashTokenKey(internal.NormalizeTokenCode(code, s.config.Charset))
	return s.config.Prefix + ":" + hex.EncodeToString(h[:])
}

// Create builds a payload. Nothing is persisted until Issue.
func (s *TokenStore) Create(name string, data map[string]string, identity session.Identity, destinations []session.Destination) session.TokenPayload {
	now := s.now().UTC()
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	dests := make([]session.Destination, len(destinations))
	copy(dests, destinations)

	return session.TokenPayload{
		ID:           ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Name:         name,
		Data:         copied,
		Identity:     identity,
		Destinations: dests,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.config.TTL),
	}
}

// Issue persists payload under a fresh random code and returns the code.
func (s *TokenStore) Issue(ctx context.Context, payload session.TokenPayload) (string, error) {
	encoded, err := encodeTokenPayload(payload)
	if err != nil {
		return "", err
	}

	ttl := time.Until(payload.ExpiresAt)
	if ttl <= 0 {
		ttl = s.config.TTL
	}

	const maxCollisions = 3
	for i := 0; i < maxCollisions; i++ {
		code, err := internal.NewTokenCode(s.config.CodeLength, s.config.Charset)
		if err != nil {
			return "", err
		}
		ok, err := s.redis.SetNX(ctx, s.key(code), encoded, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: key space exhausted", ErrTokenRedisUnavailable)
}

// Redeem returns the payload bound to code and deletes it. A second redeem of the same
// code, an unknown code or an expired record all report ok=false.
func (s *TokenStore) Redeem(ctx context.Context, code string) (session.TokenPayload, bool, error) {
	if code == "" {
		return session.TokenPayload{}, false, nil
	}

	const maxRetries = 4
	key := s.key(code)

	for i := 0; i < maxRetries; i++ {
		var redeemed *session.TokenPayload

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			payload, err := decodeTokenPayload(data)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			if s.now().After(payload.ExpiresAt) {
				return nil
			}
			redeemed = &payload
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return session.TokenPayload{}, false, nil
			case errors.Is(err, ErrTokenCorrupt):
				return session.TokenPayload{}, false, err
			default:
				return session.TokenPayload{}, false, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
			}
		}

		if redeemed == nil {
			return session.TokenPayload{}, false, nil
		}
		return *redeemed, true, nil
	}

	return session.TokenPayload{}, false, fmt.Errorf("%w: redeem contended after %d attempts", ErrTokenRedisUnavailable, maxRetries)
}

func encodeTokenPayload(payload session.TokenPayload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tokenRecordVersionV1)
	return append(out, body...), nil
}

func decodeTokenPayload(data []byte) (session.TokenPayload, error) {
	var payload session.TokenPayload
	if len(data) < 2 || data[0] != tokenRecordVersionV1 {
		return payload, ErrTokenCorrupt
	}
	if err := json.Unmarshal(data[1:], &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrTokenCorrupt, err)
	}
	return payload, nil
}
