package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the session backend cannot be reached.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when no session exists under the id.
var ErrSessionNotFound = errors.New("recovery session not found")

// ErrConcurrentUpdate is returned when the stored revision moved since the session was loaded.
var ErrConcurrentUpdate = errors.New("recovery session modified concurrently")

const (
	saveStatusConflict int64 = 0
	saveStatusSaved    int64 = 1
	saveStatusMissing  int64 = 2
)

// KEYS[1] = session hash
// ARGV[1] = expected revision, ARGV[2] = blob, ARGV[3] = new revision, ARGV[4] = ttl ms
const saveSessionScript = `
local cur = redis.call("HGET", KEYS[1], "rev")
if not cur then
  if ARGV[1] ~= "0" then
    return 2
  end
elseif cur ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "rev", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`

var saveSessionLua = redis.NewScript(saveSessionScript)

// Store persists recovery sessions in Redis hashes guarded by a revision counter.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore creates a store. An empty prefix defaults to "rcs"; a non-positive ttl to 30 minutes.
func NewStore(r redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "rcs"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{redis: r, prefix: prefix, ttl: ttl}
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
}

// Save writes sess when the stored revision still equals sess.Revision, then bumps the revision.
// A brand-new session has Revision 0.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id required")
	}

	next := *sess
	next.Revision = sess.Revision + 1
	next.UpdatedAt = time.Now().Unix()

	blob, err := Encode(&next)
	if err != nil {
		return err
	}

	status, err := saveSessionLua.Run(ctx, s.redis,
		[]string{s.key(sess.ID)},
		strconv.FormatUint(sess.Revision, 10),
		blob,
		strconv.FormatUint(next.Revision, 10),
		s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch status {
	case saveStatusSaved:
		sess.Revision = next.Revision
		sess.UpdatedAt = next.UpdatedAt
		return nil
	case saveStatusMissing:
		return ErrSessionNotFound
	default:
		return ErrConcurrentUpdate
	}
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.HGet(ctx, s.key(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(data)
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// TTL returns the remaining lifetime of a stored session.
func (s *Store) TTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, s.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, ErrSessionNotFound
	}
	return ttl, nil
}
