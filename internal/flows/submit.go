package flows

import (
	"context"

	"github.com/pwm-project/pwm-sub000/session"
)

// ExpectedMethod returns the method whose submission is currently accepted: the first
// unsatisfied presentable required method, otherwise the in-progress optional method.
func ExpectedMethod(s *session.Session) session.Method {
	if !s.Identified() {
		return session.MethodNone
	}
	for _, m := range s.Flags.RequiredMethods {
		if m == session.MethodPreviousAuth || s.IsSatisfied(m) {
			continue
		}
		return m
	}
	if m := s.Progress.InProgress; m != session.MethodNone && !s.IsSatisfied(m) {
		return m
	}
	return session.MethodNone
}

// RunSubmit evaluates input for method m. Submissions for a method other than the expected
// one are ignored and report evaluated=false. Failed outcomes mark the intruder guard for the
// identified user and the request's address and session.
func RunSubmit(ctx context.Context, s *session.Session, m session.Method, in Input, deps SubmitDeps) (outcome Outcome, evaluated bool, err error) {
	normalizeSubmitDeps(&deps)
	if !s.Identified() || m != ExpectedMethod(s) {
		return Outcome{}, false, nil
	}
	identity := *s.IdentifiedUser

	locked, err := deps.Intruder.IsLocked(ctx, &identity, s.ID)
	if err != nil {
		return Outcome{}, false, &Fault{Kind: FaultIntruder, Detail: "check intruder lock", Err: err}
	}
	if locked {
		return Outcome{}, false, lockedFault("user, address or session is locked")
	}

	outcome, err = deps.Registry.Evaluate(ctx, s, m, in)
	if err != nil {
		return Outcome{}, true, err
	}

	if outcome.Passed() {
		s.MarkSatisfied(m)
		deps.OnPassed(ctx, s, m)
		return outcome, true, nil
	}

	if err := deps.Intruder.Mark(ctx, &identity, s.ID); err != nil {
		return Outcome{}, true, &Fault{Kind: FaultIntruder, Detail: "mark intruder", Err: err}
	}
	deps.OnFailed(ctx, s, m, outcome)
	return outcome, true, nil
}

// RunChooseOptional selects m as the in-progress optional method. It reports false when m is
// not one of the choices advance would currently offer.
func RunChooseOptional(ctx context.Context, s *session.Session, m session.Method, registry Registry) (bool, error) {
	if !s.Identified() || m == session.MethodPreviousAuth {
		return false, nil
	}
	if ExpectedMethod(s) != session.MethodNone {
		return false, nil
	}
	if !s.Flags.OptionalMethods.Contains(m) || s.IsSatisfied(m) {
		return false, nil
	}
	ok, err := registry.Satisfiable(ctx, s, m)
	if err != nil || !ok {
		return false, err
	}
	s.Progress.InProgress = m
	return true, nil
}

// RunChooseTokenChannel records the user's channel under the CHOICE policy.
func RunChooseTokenChannel(ctx context.Context, s *session.Session, ch session.Channel, deps TokenDeps) (bool, error) {
	if !s.Identified() || s.Flags.TokenChannelPolicy != session.PolicyChoice || s.Progress.TokenIssued {
		return false, nil
	}
	if ExpectedMethod(s) != session.MethodToken || deps.Destinations == nil {
		return false, nil
	}
	dests, err := deps.Destinations(ctx, *s.IdentifiedUser)
	if err != nil {
		return false, directoryFault("resolve token destinations", err)
	}
	for _, available := range ChoosableChannels(dests) {
		if available == ch {
			s.Progress.TokenChannel = ch
			return true, nil
		}
	}
	return false, nil
}

// RunChooseAction records the terminal action choice. It is accepted only while advance would
// present the action choice.
func RunChooseAction(ctx context.Context, s *session.Session, choice session.ActionChoice, deps ProgressDeps) (bool, error) {
	normalizeProgressDeps(&deps)
	if choice == session.ActionChoiceNone || !s.Identified() || !s.Progress.AllPassed {
		return false, nil
	}
	if s.Progress.ActionChoice != session.ActionChoiceNone {
		return false, nil
	}
	step, err := resolveTerminal(ctx, s, deps)
	if err != nil {
		return false, err
	}
	if step.Kind != StepPresentActionChoice {
		return false, nil
	}
	s.Progress.ActionChoice = choice
	return true, nil
}
