package flows

import (
	"context"
	"strings"

	"github.com/pwm-project/pwm-sub000/session"
)

// Input carries what the user submitted for one method.
type Input struct {
	Values map[string]string
	Code   string
}

// Verifier is the capability set of one verification method.
type Verifier interface {
	// Satisfiable reports whether the method can be completed for the identified user right now.
	Satisfiable(ctx context.Context, s *session.Session) (bool, error)
	// Evaluate checks the submitted input. A wrong answer is a failed Outcome, never an error.
	Evaluate(ctx context.Context, s *session.Session, in Input) (Outcome, error)
}

// Registry maps a method tag to its verifier.
type Registry map[session.Method]Verifier

// NewRegistry builds the default verifier for every known method.
func NewRegistry(deps MethodDeps) Registry {
	normalizeMethodDeps(&deps)
	return Registry{
		session.MethodPreviousAuth:       previousAuthVerifier{deps: deps},
		session.MethodAttributes:         attributesVerifier{deps: deps},
		session.MethodChallengeResponses: challengeVerifier{deps: deps},
		session.MethodOTP:                otpVerifier{deps: deps},
		session.MethodToken:              tokenVerifier{deps: deps.Token},
	}
}

// Satisfiable is false for methods without a registered verifier.
func (r Registry) Satisfiable(ctx context.Context, s *session.Session, m session.Method) (bool, error) {
	v, ok := r[m]
	if !ok {
		return false, nil
	}
	return v.Satisfiable(ctx, s)
}

func (r Registry) Evaluate(ctx context.Context, s *session.Session, m session.Method, in Input) (Outcome, error) {
	v, ok := r[m]
	if !ok {
		return Outcome{}, configFault("no verifier registered for %s", m)
	}
	return v.Evaluate(ctx, s, in)
}

type previousAuthVerifier struct {
	deps MethodDeps
}

func (v previousAuthVerifier) Satisfiable(ctx context.Context, s *session.Session) (bool, error) {
	if !s.Identified() {
		return false, nil
	}
	record, ok := v.deps.PreviousAuthRecord(ctx)
	return ok && record.GUID != "" && record.GUID == s.IdentifiedUser.GUID, nil
}

func (v previousAuthVerifier) Evaluate(ctx context.Context, s *session.Session, _ Input) (Outcome, error) {
	ok, err := v.Satisfiable(ctx, s)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return failed("no matching authentication record"), nil
	}
	return passed(), nil
}

type attributesVerifier struct {
	deps MethodDeps
}

func (v attributesVerifier) Satisfiable(_ context.Context, s *session.Session) (bool, error) {
	return s.Identified() && len(s.AttributeForm) > 0, nil
}

func (v attributesVerifier) Evaluate(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
	if !s.Identified() || len(s.AttributeForm) == 0 {
		return Outcome{}, configFault("attribute form is empty")
	}
	if v.deps.CompareAttribute == nil {
		return Outcome{}, configFault("attribute comparison is not configured")
	}

	for _, attr := range s.AttributeForm {
		value := strings.TrimSpace(in.Values[attr.Name])
		if value == "" {
			return failed("missing attribute " + attr.Name), nil
		}
		match, err := v.deps.CompareAttribute(ctx, *s.IdentifiedUser, attr.Name, value)
		if err != nil {
			return Outcome{}, directoryFault("compare attribute", err)
		}
		if !match {
			return failed("attribute mismatch"), nil
		}
	}
	return passed(), nil
}

type challengeVerifier struct {
	deps MethodDeps
}

func (v challengeVerifier) load(ctx context.Context, s *session.Session) (session.ResponseSet, bool, error) {
	if !s.Identified() || v.deps.ReadResponseSet == nil {
		return nil, false, nil
	}
	rs, ok, err := v.deps.ReadResponseSet(ctx, *s.IdentifiedUser, s.CurrentLocale)
	if err != nil {
		return nil, false, directoryFault("read response set", err)
	}
	if !ok || rs == nil || len(rs.ChallengeSet().Challenges) == 0 {
		return nil, false, nil
	}
	return rs, true, nil
}

func (v challengeVerifier) Satisfiable(ctx context.Context, s *session.Session) (bool, error) {
	rs, ok, err := v.load(ctx, s)
	if err != nil || !ok {
		return false, err
	}
	return rs.MeetsPolicy(v.deps.ChallengePolicy(s.Flags.ProfileID)), nil
}

func (v challengeVerifier) Evaluate(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
	rs, ok, err := v.load(ctx, s)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, configFault("user has no stored responses")
	}
	if !rs.MeetsPolicy(v.deps.ChallengePolicy(s.Flags.ProfileID)) {
		return Outcome{}, configFault("stored responses do not meet the configured challenge policy")
	}

	match, regenerated, err := rs.Test(ctx, in.Values)
	if err != nil {
		return Outcome{}, directoryFault("test responses", err)
	}
	if match {
		return passed(), nil
	}
	if regenerated != nil {
		s.ChallengeContext = &session.ChallengeContext{ChallengeSet: *regenerated}
	}
	return failed("incorrect responses"), nil
}

type otpVerifier struct {
	deps MethodDeps
}

func (v otpVerifier) Satisfiable(ctx context.Context, s *session.Session) (bool, error) {
	if !s.Identified() || v.deps.ReadOTPRecord == nil {
		return false, nil
	}
	_, ok, err := v.deps.ReadOTPRecord(ctx, *s.IdentifiedUser)
	if err != nil {
		return false, directoryFault("read otp record", err)
	}
	return ok, nil
}

// Evaluate always validates with allowRepair=false.
func (v otpVerifier) Evaluate(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
	if !s.Identified() || v.deps.ReadOTPRecord == nil || v.deps.ValidateOTP == nil {
		return Outcome{}, configFault("otp service is not configured")
	}
	record, ok, err := v.deps.ReadOTPRecord(ctx, *s.IdentifiedUser)
	if err != nil {
		return Outcome{}, directoryFault("read otp record", err)
	}
	if !ok {
		return Outcome{}, configFault("user has no otp record")
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return failed("missing otp code"), nil
	}
	valid, err := v.deps.ValidateOTP(ctx, *s.IdentifiedUser, record, code, false)
	if err != nil {
		return Outcome{}, directoryFault("validate otp", err)
	}
	if !valid {
		return failed("incorrect otp code"), nil
	}
	return passed(), nil
}
