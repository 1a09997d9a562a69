package flows

import (
	"context"
	"errors"
	"sync"

	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/session"
)

var errNotFound = errors.New("not found")

type fakeResponseSet struct {
	set     session.ChallengeSet
	answers map[string]string
	meets   bool
	regen   *session.ChallengeSet
}

func (r *fakeResponseSet) ChallengeSet() session.ChallengeSet { return r.set }

func (r *fakeResponseSet) MeetsPolicy(session.ChallengePolicy) bool { return r.meets }

func (r *fakeResponseSet) Test(_ context.Context, answers map[string]string) (bool, *session.ChallengeSet, error) {
	for id, want := range r.answers {
		if answers[id] != want {
			return false, r.regen, nil
		}
	}
	return true, nil, nil
}

// fixture is an in-memory directory, token store, notifier and intruder guard.
type fixture struct {
	mu sync.Mutex

	identity     session.Identity
	attributes   map[string]string
	responses    *fakeResponseSet
	otpRecord    *otp.Record
	otpCode      string
	destinations []session.Destination
	dirLocked    bool
	expired      bool
	pwdChanged   string
	authRecord   *session.Identity
	flags        session.Flags
	formAttrs    []session.AttributeRequirement

	tokens     map[string]session.TokenPayload
	nextCode   int
	sent       []session.Destination
	sentCodes  []string
	failSend   map[session.Channel]bool
	marks      int
	cleared    int
	intruderOn bool
	calls      []string
	deferred   []DeferredAction
	deferRuns  int
	allPassed  int
}

func newFixture() *fixture {
	return &fixture{
		identity:   session.Identity{UserDN: "uid=alice,ou=people", GUID: "guid-alice", ProfileID: "default"},
		attributes: map[string]string{"mail": "alice@example.com", "employeeNumber": "1001"},
		responses: &fakeResponseSet{
			set: session.ChallengeSet{Challenges: []session.Challenge{
				{ID: "pet", Text: "First pet?", Required: true},
				{ID: "city", Text: "Birth city?", Required: true},
			}},
			answers: map[string]string{"pet": "rex", "city": "oslo"},
			meets:   true,
		},
		destinations: []session.Destination{
			{Channel: session.ChannelEmail, Address: "alice@example.com"},
			{Channel: session.ChannelSMS, Address: "+15550001234"},
		},
		pwdChanged: "20240101000000Z",
		formAttrs: []session.AttributeRequirement{
			{Name: "mail", Label: "Email", Required: true},
			{Name: "employeeNumber", Label: "Employee number"},
			{Name: "telephoneNumber", Label: "Phone"},
		},
		tokens:   map[string]session.TokenPayload{},
		failSend: map[session.Channel]bool{},
	}
}

func (f *fixture) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fixture) tokenDeps() TokenDeps {
	return TokenDeps{
		Name: "recovery-token",
		Destinations: func(context.Context, session.Identity) ([]session.Destination, error) {
			return f.destinations, nil
		},
		Fingerprint: func(_ context.Context, id session.Identity) (string, error) {
			return id.GUID + "|" + f.pwdChanged, nil
		},
		Create: func(name string, data map[string]string, id session.Identity, dests []session.Destination) session.TokenPayload {
			return session.TokenPayload{Name: name, Data: data, Identity: id, Destinations: dests}
		},
		Issue: func(_ context.Context, p session.TokenPayload) (string, error) {
			f.nextCode++
			code := "CODE" + string(rune('0'+f.nextCode))
			f.tokens[code] = p
			return code, nil
		},
		Redeem: func(_ context.Context, code string) (session.TokenPayload, bool, error) {
			p, ok := f.tokens[code]
			delete(f.tokens, code)
			return p, ok, nil
		},
		Send: func(_ context.Context, d session.Destination, code string, _ session.Identity) error {
			if f.failSend[d.Channel] {
				return errors.New("gateway down")
			}
			f.sent = append(f.sent, d)
			f.sentCodes = append(f.sentCodes, code)
			return nil
		},
	}
}

func (f *fixture) methodDeps() MethodDeps {
	return MethodDeps{
		PreviousAuthRecord: func(context.Context) (session.Identity, bool) {
			if f.authRecord == nil {
				return session.Identity{}, false
			}
			return *f.authRecord, true
		},
		ReadAttribute: func(_ context.Context, _ session.Identity, name string) (string, bool, error) {
			v, ok := f.attributes[name]
			return v, ok, nil
		},
		CompareAttribute: func(_ context.Context, _ session.Identity, name, value string) (bool, error) {
			return f.attributes[name] == value, nil
		},
		ReadResponseSet: func(context.Context, session.Identity, string) (session.ResponseSet, bool, error) {
			if f.responses == nil {
				return nil, false, nil
			}
			return f.responses, true, nil
		},
		ReadOTPRecord: func(context.Context, session.Identity) (otp.Record, bool, error) {
			if f.otpRecord == nil {
				return otp.Record{}, false, nil
			}
			return *f.otpRecord, true, nil
		},
		ValidateOTP: func(_ context.Context, _ session.Identity, _ otp.Record, code string, allowRepair bool) (bool, error) {
			if allowRepair {
				return false, errors.New("repair requested")
			}
			return code == f.otpCode, nil
		},
		Token: f.tokenDeps(),
	}
}

func (f *fixture) intruderDeps() IntruderDeps {
	return IntruderDeps{
		IsLocked: func(context.Context, *session.Identity, string) (bool, error) {
			return f.intruderOn, nil
		},
		Mark: func(context.Context, *session.Identity, string) error {
			f.marks++
			return nil
		},
		Clear: func(context.Context, *session.Identity, string) error {
			f.cleared++
			return nil
		},
	}
}

func (f *fixture) progressDeps() ProgressDeps {
	return ProgressDeps{
		Registry: NewRegistry(f.methodDeps()),
		Token:    f.tokenDeps(),
		IsDirectoryLocked: func(context.Context, session.Identity) (bool, error) {
			return f.dirLocked, nil
		},
		IsPasswordExpired: func(context.Context, session.Identity) (bool, error) {
			return f.expired, nil
		},
		OnAllPassed: func(context.Context, *session.Session) { f.allPassed++ },
	}
}

func (f *fixture) identifyDeps() IdentifyDeps {
	return IdentifyDeps{
		Registry: NewRegistry(f.methodDeps()),
		Search: func(_ context.Context, _ string, form map[string]string) (session.Identity, error) {
			if form["username"] != "alice" {
				return session.Identity{}, errNotFound
			}
			return f.identity, nil
		},
		IsNotFound:   func(err error) bool { return errors.Is(err, errNotFound) },
		ResolveFlags: func(string) (session.Flags, error) { return f.flags, nil },
		Attributes:   func(string) []session.AttributeRequirement { return f.formAttrs },
		ReadAttribute: func(_ context.Context, _ session.Identity, name string) (string, bool, error) {
			v, ok := f.attributes[name]
			return v, ok, nil
		},
		ReadResponseSet: func(context.Context, session.Identity, string) (session.ResponseSet, bool, error) {
			if f.responses == nil {
				return nil, false, nil
			}
			return f.responses, true, nil
		},
		IsDirectoryLocked: func(context.Context, session.Identity) (bool, error) {
			return f.dirLocked, nil
		},
		Intruder: f.intruderDeps(),
	}
}

func (f *fixture) submitDeps() SubmitDeps {
	return SubmitDeps{
		Registry: NewRegistry(f.methodDeps()),
		Intruder: f.intruderDeps(),
	}
}

func (f *fixture) actionDeps() ActionDeps {
	return ActionDeps{
		DeferredWrites: func(string) map[string]string {
			return map[string]string{"pwmRecoveredAt": "now"}
		},
		Unlock: func(context.Context, session.Identity) error {
			f.record("unlock")
			return nil
		},
		Authenticate: func(context.Context, session.Identity) error {
			f.record("authenticate")
			return nil
		},
		Deauthenticate: func(context.Context, session.Identity) error {
			f.record("deauthenticate")
			return nil
		},
		GeneratePassword: func(context.Context, session.Identity) (string, error) {
			return "Gen3rated!pw", nil
		},
		SetPassword: func(context.Context, session.Identity, string) error {
			f.record("set_password")
			return nil
		},
		ExpirePassword: func(context.Context, session.Identity) error {
			f.record("expire_password")
			return nil
		},
		WriteAttributes: func(context.Context, session.Identity, map[string]string) error {
			f.record("write_attributes")
			f.deferRuns++
			return nil
		},
		EnqueueDeferred: func(_ context.Context, a DeferredAction) error {
			f.deferred = append(f.deferred, a)
			return nil
		},
		DrainDeferred: func(context.Context, session.Identity) ([]DeferredAction, error) {
			out := f.deferred
			f.deferred = nil
			return out, nil
		},
		Destinations: func(context.Context, session.Identity) ([]session.Destination, error) {
			return f.destinations, nil
		},
		NewPasswordPolicy: session.PolicyEmailFirst,
		SendPassword: func(_ context.Context, d session.Destination, _ string, _ session.Identity) error {
			if f.failSend[d.Channel] {
				return errors.New("gateway down")
			}
			f.record("send_" + d.Channel.String())
			f.sent = append(f.sent, d)
			return nil
		},
		Intruder: f.intruderDeps(),
	}
}

// identified returns a session already bound to the fixture user under flags.
func (f *fixture) identified(flags session.Flags) *session.Session {
	f.flags = flags
	s := session.New("sess-1", "en")
	id := f.identity
	s.IdentifiedUser = &id
	s.Flags = flags
	return s
}
