package flows

import (
	"context"
	"testing"

	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/session"
)

func newOTPRecord() *otp.Record {
	return &otp.Record{Kind: otp.KindTOTP, Secret: "JBSWY3DPEHPK3PXP", Digits: 6}
}

func tokenSession(f *fixture, policy session.ChannelPolicy) *session.Session {
	return f.identified(session.Flags{
		ProfileID:          "default",
		RequiredMethods:    session.NewMethodSet(session.MethodToken),
		TokenChannelPolicy: policy,
	})
}

func TestTokenIssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := tokenSession(f, session.PolicyEmailFirst)

	step, err := RunAdvance(ctx, s, f.progressDeps())
	if err != nil || step.Method != session.MethodToken {
		t.Fatalf("expected Present(TOKEN), got %+v err=%v", step, err)
	}
	if len(f.sentCodes) != 1 {
		t.Fatalf("expected one token send, got %d", len(f.sentCodes))
	}
	code := f.sentCodes[0]

	if _, err := RunAdvance(ctx, s, f.progressDeps()); err != nil {
		t.Fatalf("RunAdvance failed: %v", err)
	}
	if len(f.sentCodes) != 1 {
		t.Fatalf("token must be issued once per session")
	}

	outcome, _, err := RunSubmit(ctx, s, session.MethodToken, Input{Code: code}, f.submitDeps())
	if err != nil || !outcome.Passed() {
		t.Fatalf("expected token pass, got %+v err=%v", outcome, err)
	}

	_, outcome, err = RedeemToken(ctx, f.tokenDeps(), code, nil)
	if err != nil || outcome.Passed() {
		t.Fatalf("second redeem must fail, got %+v err=%v", outcome, err)
	}
}

func TestTokenFailsOverToSecondaryChannel(t *testing.T) {
	f := newFixture()
	f.failSend[session.ChannelEmail] = true
	s := tokenSession(f, session.PolicyEmailFirst)

	if _, err := RunAdvance(context.Background(), s, f.progressDeps()); err != nil {
		t.Fatalf("RunAdvance failed: %v", err)
	}
	if len(f.sent) != 1 || f.sent[0].Channel != session.ChannelSMS {
		t.Fatalf("expected SMS fallback, got %+v", f.sent)
	}
	if s.Progress.TokenDestination != "***-***-1234" {
		t.Fatalf("unexpected masked destination %q", s.Progress.TokenDestination)
	}
}

func TestTokenBothSendsToEveryChannel(t *testing.T) {
	f := newFixture()
	s := tokenSession(f, session.PolicyBoth)

	if _, err := RunAdvance(context.Background(), s, f.progressDeps()); err != nil {
		t.Fatalf("RunAdvance failed: %v", err)
	}
	if len(f.sent) != 2 {
		t.Fatalf("expected both channels, got %+v", f.sent)
	}
}

func TestTokenChoiceWaitsForChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := tokenSession(f, session.PolicyChoice)

	step, err := RunAdvance(ctx, s, f.progressDeps())
	if err != nil {
		t.Fatalf("RunAdvance failed: %v", err)
	}
	if step.Kind != StepPresentTokenChannel || len(step.Channels) != 2 {
		t.Fatalf("expected channel choice, got %+v", step)
	}
	if len(f.sent) != 0 || s.Progress.TokenIssued {
		t.Fatalf("token must not be issued before a channel is chosen")
	}

	ok, err := RunChooseTokenChannel(ctx, s, session.ChannelSMS, f.tokenDeps())
	if err != nil || !ok {
		t.Fatalf("expected channel accepted, ok=%v err=%v", ok, err)
	}
	if _, err := RunAdvance(ctx, s, f.progressDeps()); err != nil {
		t.Fatalf("RunAdvance failed: %v", err)
	}
	if len(f.sent) != 1 || f.sent[0].Channel != session.ChannelSMS {
		t.Fatalf("expected SMS send, got %+v", f.sent)
	}
}

func TestTokenChoiceAutoSelectsSingleChannel(t *testing.T) {
	f := newFixture()
	f.destinations = f.destinations[:1]
	s := tokenSession(f, session.PolicyChoice)

	step, err := RunAdvance(context.Background(), s, f.progressDeps())
	if err != nil || step.Kind != StepPresent {
		t.Fatalf("expected Present(TOKEN), got %+v err=%v", step, err)
	}
	if s.Progress.TokenChannel != session.ChannelEmail {
		t.Fatalf("expected email auto-selected")
	}
}

func TestTokenStaleAfterPasswordChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := tokenSession(f, session.PolicyEmailOnly)

	if _, err := RunAdvance(ctx, s, f.progressDeps()); err != nil {
		t.Fatalf("RunAdvance failed: %v", err)
	}
	f.pwdChanged = "20250101000000Z"

	outcome, _, err := RunSubmit(ctx, s, session.MethodToken, Input{Code: f.sentCodes[0]}, f.submitDeps())
	if err != nil {
		t.Fatalf("RunSubmit failed: %v", err)
	}
	if outcome.Passed() || outcome.Reason != "stale token" {
		t.Fatalf("expected stale token failure, got %+v", outcome)
	}
	if f.marks != 1 {
		t.Fatalf("expected intruder mark for stale token")
	}
}

func TestTokenUnsatisfiableWithoutDestination(t *testing.T) {
	f := newFixture()
	f.destinations = []session.Destination{{Channel: session.ChannelSMS, Address: "+15550001234"}}
	s := tokenSession(f, session.PolicyEmailOnly)

	ok, err := NewRegistry(f.methodDeps()).Satisfiable(context.Background(), s, session.MethodToken)
	if err != nil || ok {
		t.Fatalf("expected unsatisfiable token, ok=%v err=%v", ok, err)
	}
	s.Flags.TokenChannelPolicy = session.PolicyNone
	ok, _ = NewRegistry(f.methodDeps()).Satisfiable(context.Background(), s, session.MethodToken)
	if ok {
		t.Fatalf("NONE policy must be unsatisfiable")
	}
}

func TestMaskDestinations(t *testing.T) {
	got := MaskDestinations([]session.Destination{
		{Channel: session.ChannelEmail, Address: "bob@corp.example"},
		{Channel: session.ChannelSMS, Address: "+1 (555) 000-9876"},
	})
	if got != "b***@corp.example, ***-***-9876" {
		t.Fatalf("unexpected mask %q", got)
	}
}
