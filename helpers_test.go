package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

// callLog is shared by the fakes so tests can assert cross-collaborator ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeResponseSet struct {
	set     session.ChallengeSet
	answers map[string]string
	meets   bool
}

func (r *fakeResponseSet) ChallengeSet() session.ChallengeSet { return r.set }

func (r *fakeResponseSet) MeetsPolicy(session.ChallengePolicy) bool { return r.meets }

func (r *fakeResponseSet) Test(_ context.Context, answers map[string]string) (bool, *session.ChallengeSet, error) {
	for id, want := range r.answers {
		if answers[id] != want {
			return false, nil, nil
		}
	}
	return true, nil, nil
}

// fakeDirectory holds a single user, alice.
type fakeDirectory struct {
	mu  sync.Mutex
	log *callLog

	identity   session.Identity
	attributes map[string]string
	responses  *fakeResponseSet
	otpRecord  *otp.Record
	locked     bool
	expired    bool
	searchErr  error
	compareErr error
	password   string
	written    map[string]string

	// responsesErr fails the next ReadResponseSet call only.
	responsesErr  error
	responseReads int
}

func newFakeDirectory(log *callLog) *fakeDirectory {
	return &fakeDirectory{
		log:      log,
		identity: session.Identity{UserDN: "uid=alice,ou=people", GUID: "guid-alice"},
		attributes: map[string]string{
			"mail":           "alice@example.com",
			"mobile":         "+15550001234",
			"employeeNumber": "1001",
			"pwdChangedTime": "20240101000000Z",
		},
		responses: &fakeResponseSet{
			set: session.ChallengeSet{Challenges: []session.Challenge{
				{ID: "pet", Text: "First pet?", Required: true},
				{ID: "city", Text: "Birth city?", Required: true},
			}},
			answers: map[string]string{"pet": "rex", "city": "oslo"},
			meets:   true,
		},
		written: map[string]string{},
	}
}

func (d *fakeDirectory) Search(_ context.Context, profileID string, form map[string]string) (session.Identity, error) {
	if d.searchErr != nil {
		return session.Identity{}, d.searchErr
	}
	if form["username"] != "alice" {
		return session.Identity{}, fmt.Errorf("search %q: %w", form["username"], ErrIdentityNotFound)
	}
	id := d.identity
	id.ProfileID = profileID
	return id, nil
}

func (d *fakeDirectory) ReadAttribute(_ context.Context, _ session.Identity, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.attributes[name]
	return v, ok, nil
}

func (d *fakeDirectory) CompareAttribute(_ context.Context, _ session.Identity, name, value string) (bool, error) {
	if d.compareErr != nil {
		return false, d.compareErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attributes[name] == value, nil
}

func (d *fakeDirectory) Unlock(context.Context, session.Identity) error {
	d.log.add("unlock")
	d.locked = false
	return nil
}

func (d *fakeDirectory) IsLocked(context.Context, session.Identity) (bool, error) {
	return d.locked, nil
}

func (d *fakeDirectory) IsPasswordExpired(context.Context, session.Identity) (bool, error) {
	return d.expired, nil
}

func (d *fakeDirectory) ReadResponseSet(context.Context, session.Identity, string) (session.ResponseSet, bool, error) {
	d.mu.Lock()
	d.responseReads++
	err := d.responsesErr
	d.responsesErr = nil
	d.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	if d.responses == nil {
		return nil, false, nil
	}
	return d.responses, true, nil
}

func (d *fakeDirectory) ExpirePassword(context.Context, session.Identity) error {
	d.log.add("expire_password")
	d.expired = true
	return nil
}

func (d *fakeDirectory) SetPassword(_ context.Context, _ session.Identity, value string) error {
	d.log.add("set_password")
	d.mu.Lock()
	d.password = value
	d.attributes["pwdChangedTime"] += "+"
	d.mu.Unlock()
	return nil
}

func (d *fakeDirectory) WriteAttributes(_ context.Context, _ session.Identity, values map[string]string) error {
	d.log.add("write_attributes")
	d.mu.Lock()
	for k, v := range values {
		d.written[k] = v
	}
	d.mu.Unlock()
	return nil
}

func (d *fakeDirectory) ReadOTPRecord(context.Context, session.Identity) (otp.Record, bool, error) {
	if d.otpRecord == nil {
		return otp.Record{}, false, nil
	}
	return *d.otpRecord, true, nil
}

func (d *fakeDirectory) UpdateOTPCounter(_ context.Context, _ session.Identity, counter uint64) error {
	if d.otpRecord != nil {
		d.otpRecord.Counter = counter
	}
	return nil
}

type sentMessage struct {
	channel session.Channel
	to      string
	body    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	log  *callLog
	sent []sentMessage
	fail map[session.Channel]bool
}

func newFakeNotifier(log *callLog) *fakeNotifier {
	return &fakeNotifier{log: log, fail: map[session.Channel]bool{}}
}

func (n *fakeNotifier) SendEmail(_ context.Context, item session.EmailItem, _ session.Identity) error {
	if n.fail[session.ChannelEmail] {
		return errors.New("smtp down")
	}
	n.log.add("send_email")
	n.mu.Lock()
	n.sent = append(n.sent, sentMessage{channel: session.ChannelEmail, to: item.To, body: item.Body})
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) SendSMS(_ context.Context, number, message string, _ session.Identity) error {
	if n.fail[session.ChannelSMS] {
		return errors.New("sms gateway down")
	}
	n.log.add("send_sms")
	n.mu.Lock()
	n.sent = append(n.sent, sentMessage{channel: session.ChannelSMS, to: number, body: message})
	n.mu.Unlock()
	return nil
}

// lastSecret returns the final word of the most recent message: the code or password.
func (n *fakeNotifier) lastSecret(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("expected a message to have been sent")
	}
	fields := strings.Fields(n.sent[len(n.sent)-1].body)
	return fields[len(fields)-1]
}

type fakeAuthenticator struct {
	log   *callLog
	modes []AuthMode
}

func (a *fakeAuthenticator) Authenticate(_ context.Context, _ session.Identity, mode AuthMode) error {
	a.log.add("authenticate")
	a.modes = append(a.modes, mode)
	return nil
}

func (a *fakeAuthenticator) Deauthenticate(context.Context, session.Identity) error {
	a.log.add("deauthenticate")
	return nil
}

// countingGuard records intruder marks per subject kind.
type countingGuard struct {
	mu     sync.Mutex
	marks  map[IntruderSubjectKind]int
	clears int
	locked bool
}

func newCountingGuard() *countingGuard {
	return &countingGuard{marks: map[IntruderSubjectKind]int{}}
}

func (g *countingGuard) Mark(_ context.Context, s IntruderSubject) error {
	g.mu.Lock()
	g.marks[s.Kind]++
	g.mu.Unlock()
	return nil
}

func (g *countingGuard) Clear(context.Context, IntruderSubject) error {
	g.mu.Lock()
	g.clears++
	g.mu.Unlock()
	return nil
}

func (g *countingGuard) IsLocked(context.Context, IntruderSubject) (bool, error) {
	return g.locked, nil
}

func (g *countingGuard) count(kind IntruderSubjectKind) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.marks[kind]
}

type testHarness struct {
	engine   *Engine
	rdb      *redis.Client
	dir      *fakeDirectory
	notifier *fakeNotifier
	auth     *fakeAuthenticator
	guard    *countingGuard
	log      *callLog
	logs     *test.Hook
	audit    *ChannelSink
}

func testConfig(profile ProfileConfig) Config {
	cfg := DefaultConfig()
	if len(profile.SearchAttributes) == 0 {
		profile.SearchAttributes = []string{"username"}
	}
	cfg.Profiles = map[string]ProfileConfig{"default": profile}
	cfg.Token.FingerprintKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	_, rdb := newTestRedis(t)
	calls := &callLog{}
	h := &testHarness{
		rdb:      rdb,
		dir:      newFakeDirectory(calls),
		notifier: newFakeNotifier(calls),
		auth:     &fakeAuthenticator{log: calls},
		guard:    newCountingGuard(),
		log:      calls,
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h.logs = hook

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(h.dir).
		WithNotifier(h.notifier).
		WithAuthenticator(h.auth).
		WithIntruderGuard(h.guard).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		h.audit = NewChannelSink(256)
		builder = builder.WithAuditSink(h.audit)
	}
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func (h *testHarness) identify(t *testing.T, s *session.Session) Step {
	t.Helper()
	step, err := h.engine.Identify(context.Background(), s, "", map[string]string{"username": "alice"})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	return step
}

var correctAnswers = map[string]string{"pet": "rex", "city": "oslo"}
