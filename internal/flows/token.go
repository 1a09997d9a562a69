package flows

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/pwm-project/pwm-sub000/session"
)

// FingerprintDataKey is the payload data entry holding the password-change fingerprint.
const FingerprintDataKey = "pwdFingerprint"

type tokenVerifier struct {
	deps TokenDeps
}

func (v tokenVerifier) Satisfiable(ctx context.Context, s *session.Session) (bool, error) {
	if !s.Identified() || s.Flags.TokenChannelPolicy == session.PolicyNone || v.deps.Destinations == nil {
		return false, nil
	}
	dests, err := v.deps.Destinations(ctx, *s.IdentifiedUser)
	if err != nil {
		return false, directoryFault("resolve token destinations", err)
	}
	if s.Flags.TokenChannelPolicy == session.PolicyChoice {
		return len(ChoosableChannels(dests)) > 0, nil
	}
	plan, _ := PlanDelivery(s.Flags.TokenChannelPolicy, session.ChannelNone, dests)
	return len(plan) > 0, nil
}

func (v tokenVerifier) Evaluate(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
	var expect *session.Identity
	if s.Identified() {
		expect = s.IdentifiedUser
	}
	_, outcome, err := RedeemToken(ctx, v.deps, in.Code, expect)
	if err != nil {
		return Outcome{}, err
	}
	v.deps.OnRedeemed(ctx, s, outcome)
	return outcome, nil
}

// RedeemToken resolves code through the token store and checks the payload against the
// current password-change fingerprint. When expect is set the payload must belong to that user.
func RedeemToken(ctx context.Context, deps TokenDeps, code string, expect *session.Identity) (session.TokenPayload, Outcome, error) {
	normalizeTokenDeps(&deps)
	if deps.Redeem == nil || deps.Fingerprint == nil {
		return session.TokenPayload{}, Outcome{}, configFault("token store is not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return session.TokenPayload{}, failed("missing token"), nil
	}

	payload, ok, err := deps.Redeem(ctx, code)
	if err != nil {
		return session.TokenPayload{}, Outcome{}, &Fault{Kind: FaultTokenStore, Detail: "redeem token", Err: err}
	}
	if !ok {
		return session.TokenPayload{}, failed("unknown or expired token"), nil
	}
	if payload.Name != deps.Name {
		return session.TokenPayload{}, failed("token issued for another purpose"), nil
	}
	if payload.Identity.IsZero() || (expect != nil && !payload.Identity.Same(*expect)) {
		return session.TokenPayload{}, failed("token issued to another user"), nil
	}

	current, err := deps.Fingerprint(ctx, payload.Identity)
	if err != nil {
		return session.TokenPayload{}, Outcome{}, directoryFault("compute password fingerprint", err)
	}
	if subtle.ConstantTimeCompare([]byte(current), []byte(payload.Data[FingerprintDataKey])) != 1 {
		return session.TokenPayload{}, failed("stale token"), nil
	}
	return payload, passed(), nil
}

// PrepareToken is called whenever TOKEN is about to be presented. It issues and sends the
// token once per session, or asks for a channel when the policy leaves the choice to the user.
func PrepareToken(ctx context.Context, s *session.Session, deps TokenDeps) (NextStep, error) {
	normalizeTokenDeps(&deps)
	if s.Progress.TokenIssued {
		return presentStep(session.MethodToken), nil
	}
	if !s.Identified() {
		return identifyStep(), nil
	}
	if deps.Destinations == nil || deps.Fingerprint == nil || deps.Create == nil || deps.Issue == nil || deps.Send == nil {
		return NextStep{}, configFault("token delivery is not configured")
	}

	identity := *s.IdentifiedUser
	dests, err := deps.Destinations(ctx, identity)
	if err != nil {
		return NextStep{}, directoryFault("resolve token destinations", err)
	}

	policy := s.Flags.TokenChannelPolicy
	if policy == session.PolicyChoice && s.Progress.TokenChannel == session.ChannelNone {
		channels := ChoosableChannels(dests)
		switch len(channels) {
		case 0:
			return NextStep{}, configFault("no token destination available for user")
		case 1:
			s.Progress.TokenChannel = channels[0]
		default:
			return NextStep{Kind: StepPresentTokenChannel, Method: session.MethodToken, Channels: channels}, nil
		}
	}

	plan, mode := PlanDelivery(policy, s.Progress.TokenChannel, dests)
	if len(plan) == 0 {
		return NextStep{}, configFault("no token destination matches channel policy %s", policy)
	}

	fingerprint, err := deps.Fingerprint(ctx, identity)
	if err != nil {
		return NextStep{}, directoryFault("compute password fingerprint", err)
	}
	payload := deps.Create(deps.Name, map[string]string{FingerprintDataKey: fingerprint}, identity, plan)
	code, err := deps.Issue(ctx, payload)
	if err != nil {
		return NextStep{}, &Fault{Kind: FaultTokenStore, Detail: "issue token", Err: err}
	}

	delivered, err := Deliver(ctx, plan, mode, func(ctx context.Context, d session.Destination) error {
		return deps.Send(ctx, d, code, identity)
	})
	if err != nil {
		return NextStep{}, &Fault{Kind: FaultNotification, Detail: "send token", Err: err}
	}

	s.Progress.TokenIssued = true
	s.Progress.TokenDestination = MaskDestinations(delivered)
	deps.OnIssued(ctx, s, delivered)
	return presentStep(session.MethodToken), nil
}
