package flows

import (
	"context"

	"github.com/pwm-project/pwm-sub000/session"
)

// RunAdvance recomputes the next step from the session's flags and progress. It never
// evaluates user input; the only state it writes is the PREVIOUS_AUTH mark, an auto-selected
// in-progress method, token issue state and the one-time allPassed flag.
func RunAdvance(ctx context.Context, s *session.Session, deps ProgressDeps) (NextStep, error) {
	normalizeProgressDeps(&deps)
	if !s.Identified() {
		return identifyStep(), nil
	}
	flags := s.Flags

	if !s.IsSatisfied(session.MethodPreviousAuth) {
		if v, ok := deps.Registry[session.MethodPreviousAuth]; ok {
			outcome, err := v.Evaluate(ctx, s, Input{})
			if err != nil {
				return NextStep{}, err
			}
			if outcome.Passed() {
				s.MarkSatisfied(session.MethodPreviousAuth)
				deps.OnMethodPassed(ctx, s, session.MethodPreviousAuth)
			}
		}
	}

	for _, m := range flags.RequiredMethods {
		if s.IsSatisfied(m) {
			continue
		}
		if m == session.MethodPreviousAuth {
			return NextStep{}, configFault("required PREVIOUS_AUTH has no matching authentication record")
		}
		return present(ctx, s, m, deps)
	}

	if m := s.Progress.InProgress; m != session.MethodNone {
		if !s.IsSatisfied(m) {
			return present(ctx, s, m, deps)
		}
		s.Progress.InProgress = session.MethodNone
	}

	need := flags.MinOptionalRequired - s.Progress.Satisfied.CountIn(flags.OptionalMethods)
	if need > 0 {
		var remaining session.MethodSet
		for _, m := range flags.OptionalMethods.Minus(s.Progress.Satisfied) {
			if m == session.MethodPreviousAuth {
				continue
			}
			ok, err := deps.Registry.Satisfiable(ctx, s, m)
			if err != nil {
				return NextStep{}, err
			}
			if ok {
				remaining = append(remaining, m)
			}
		}
		if len(remaining) < need {
			return NextStep{}, configFault("optional quorum of %d cannot be met: %d satisfiable method(s) remain for %d needed",
				flags.MinOptionalRequired, len(remaining), need)
		}
		if len(remaining) == 1 {
			s.Progress.InProgress = remaining[0]
			return present(ctx, s, remaining[0], deps)
		}
		return NextStep{Kind: StepPresentChoice, Choices: remaining}, nil
	}

	if len(s.Progress.Satisfied) == 0 {
		return NextStep{}, configFault("profile %q completes with no verification method satisfied", flags.ProfileID)
	}

	if !s.Progress.AllPassed {
		s.Progress.AllPassed = true
		deps.OnAllPassed(ctx, s)
	}

	return resolveTerminal(ctx, s, deps)
}

func present(ctx context.Context, s *session.Session, m session.Method, deps ProgressDeps) (NextStep, error) {
	if m == session.MethodToken {
		return PrepareToken(ctx, s, deps.Token)
	}
	return presentStep(m), nil
}

func resolveTerminal(ctx context.Context, s *session.Session, deps ProgressDeps) (NextStep, error) {
	if s.Flags.TerminalAction.SendsNewPassword() {
		return dispatchStep(DispatchSendNewPassword), nil
	}
	switch s.Progress.ActionChoice {
	case session.ActionChoiceUnlock:
		return dispatchStep(DispatchUnlock), nil
	case session.ActionChoiceResetPassword:
		return dispatchStep(DispatchResetPassword), nil
	}

	if s.Flags.AllowUnlockChoice {
		identity := *s.IdentifiedUser
		locked, err := deps.IsDirectoryLocked(ctx, identity)
		if err != nil {
			return NextStep{}, directoryFault("read lock state", err)
		}
		if locked {
			expired, err := deps.IsPasswordExpired(ctx, identity)
			if err != nil {
				return NextStep{}, directoryFault("read password expiry", err)
			}
			if !expired {
				return NextStep{
					Kind:    StepPresentActionChoice,
					Actions: []session.ActionChoice{session.ActionChoiceUnlock, session.ActionChoiceResetPassword},
				}, nil
			}
		}
	}
	return dispatchStep(DispatchResetPassword), nil
}
