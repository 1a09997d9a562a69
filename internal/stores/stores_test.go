package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testIdentity() session.Identity {
	return session.Identity{UserDN: "uid=bob,ou=people", GUID: "guid-bob", ProfileID: "default"}
}

func TestTokenIssueRedeemRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewTokenStore(rdb, TokenStoreConfig{TTL: time.Minute})
	ctx := context.Background()

	dests := []session.Destination{{Channel: session.ChannelEmail, Address: "bob@example.com"}}
	payload := store.Create("recovery", map[string]string{"fp": "abc"}, testIdentity(), dests)

	key, err := store.Issue(ctx, payload)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	got, ok, err := store.Redeem(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Redeem failed: ok=%v err=%v", ok, err)
	}
	if !got.Identity.Same(payload.Identity) {
		t.Fatalf("identity mismatch: %+v", got.Identity)
	}
	if len(got.Destinations) != 1 || got.Destinations[0] != dests[0] {
		t.Fatalf("destinations mismatch: %+v", got.Destinations)
	}
	if got.Data["fp"] != "abc" {
		t.Fatalf("data mismatch: %+v", got.Data)
	}

	_, ok, err = store.Redeem(ctx, key)
	if err != nil {
		t.Fatalf("second Redeem error: %v", err)
	}
	if ok {
		t.Fatal("second redeem must return absent")
	}
}

func TestTokenRedeemIsCaseInsensitiveForDefaultCharset(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewTokenStore(rdb, TokenStoreConfig{TTL: time.Minute})
	ctx := context.Background()

	key, err := store.Issue(ctx, store.Create("recovery", nil, testIdentity(), nil))
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	lower := make([]byte, len(key))
	for i := range key {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	if _, ok, err := store.Redeem(ctx, string(lower)); err != nil || !ok {
		t.Fatalf("expected lower-case redeem to succeed: ok=%v err=%v", ok, err)
	}
}

func TestTokenRedeemExpired(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewTokenStore(rdb, TokenStoreConfig{TTL: time.Minute})
	ctx := context.Background()

	key, err := store.Issue(ctx, store.Create("recovery", nil, testIdentity(), nil))
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok, err := store.Redeem(ctx, key); err != nil || ok {
		t.Fatalf("expected expired token absent: ok=%v err=%v", ok, err)
	}
}

func TestTokenRedeemConcurrentSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewTokenStore(rdb, TokenStoreConfig{TTL: time.Minute})
	ctx := context.Background()

	key, err := store.Issue(ctx, store.Create("recovery", nil, testIdentity(), nil))
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := store.Redeem(ctx, key); err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful redeem, got %d", wins)
	}
}

// rewriteOnExec touches every key right before a MULTI/EXEC so that WATCH always aborts.
type rewriteOnExec struct {
	mr *miniredis.Miniredis
}

func (h rewriteOnExec) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h rewriteOnExec) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h rewriteOnExec) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, k := range h.mr.Keys() {
			if v, err := h.mr.Get(k); err == nil {
				h.mr.Set(k, v)
			}
		}
		return next(ctx, cmds)
	}
}

func TestTokenRedeemReportsPersistentContention(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewTokenStore(rdb, TokenStoreConfig{TTL: time.Minute})
	ctx := context.Background()

	key, err := store.Issue(ctx, store.Create("recovery", nil, testIdentity(), nil))
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	rdb.AddHook(rewriteOnExec{mr: mr})

	_, ok, err := store.Redeem(ctx, key)
	if ok || !errors.Is(err, ErrTokenRedisUnavailable) {
		t.Fatalf("expected ErrTokenRedisUnavailable, got ok=%v err=%v", ok, err)
	}
	if len(mr.Keys()) == 0 {
		t.Fatal("a contended redeem must not consume the token")
	}
}

func TestDeferredActionDrainOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewDeferredActionStore(rdb, "", time.Hour)
	ctx := context.Background()

	id := testIdentity()
	if _, err := store.Enqueue(ctx, DeferredAction{Name: "recovery-post-actions", Identity: id, Writes: map[string]string{"pwmLastRecovery": "now"}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := store.Pending(ctx, id)
	if err != nil || pending != 1 {
		t.Fatalf("expected one pending action, got %d err=%v", pending, err)
	}

	first, err := store.Drain(ctx, id)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(first) != 1 || first[0].Name != "recovery-post-actions" || first[0].ID == "" {
		t.Fatalf("unexpected drained actions: %+v", first)
	}

	second, err := store.Drain(ctx, id)
	if err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected empty second drain, got %+v", second)
	}
}
