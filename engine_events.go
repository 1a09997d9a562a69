package recovery

import (
	"context"

	"github.com/pwm-project/pwm-sub000/internal/flows"
	"github.com/pwm-project/pwm-sub000/session"
)

func (e *Engine) ready(s *session.Session) error {
	if e == nil || e.registry == nil || s == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Identify searches the directory with the submitted form and binds the match to s. An empty
// profileID selects the default profile. A miss returns a failed identify step, the same
// shape a wrong answer produces.
func (e *Engine) Identify(ctx context.Context, s *session.Session, profileID string, form map[string]string) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	id, _, err := e.profile(profileID)
	if err != nil {
		return Step{Kind: StepIdentify}, err
	}
	if s.Identified() {
		s.Clear()
	}

	outcome, err := flows.RunIdentify(ctx, s, id, form, e.identifyDeps())
	if err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}
	if !outcome.Passed() {
		return Step{Kind: StepIdentify, Failed: true}, nil
	}
	return e.advance(ctx, s)
}

// SubmitAttributes checks values against the directory for every attribute in the form.
func (e *Engine) SubmitAttributes(ctx context.Context, s *session.Session, values map[string]string) (Step, error) {
	return e.submit(ctx, s, session.MethodAttributes, flows.Input{Values: values})
}

// SubmitResponses checks challenge answers keyed by challenge id.
func (e *Engine) SubmitResponses(ctx context.Context, s *session.Session, answers map[string]string) (Step, error) {
	return e.submit(ctx, s, session.MethodChallengeResponses, flows.Input{Values: answers})
}

func (e *Engine) SubmitOTP(ctx context.Context, s *session.Session, code string) (Step, error) {
	return e.submit(ctx, s, session.MethodOTP, flows.Input{Code: code})
}

// SubmitToken redeems an out-of-band token. On a session without an identified user the
// token itself identifies the user.
func (e *Engine) SubmitToken(ctx context.Context, s *session.Session, code string) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	if s.Identified() {
		return e.submit(ctx, s, session.MethodToken, flows.Input{Code: code})
	}
	return e.identifyByToken(ctx, s, code)
}

func (e *Engine) submit(ctx context.Context, s *session.Session, m session.Method, in flows.Input) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	if !s.Identified() {
		return Step{Kind: StepIdentify}, ErrNoIdentity
	}

	outcome, evaluated, err := flows.RunSubmit(ctx, s, m, in, e.submitDeps())
	if err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}

	step, err := e.advance(ctx, s)
	if err != nil {
		return step, err
	}
	if !evaluated {
		e.log(s).WithField("method", m.String()).Debug("submission for a method that is not presented")
		return step, ErrMethodNotAvailable
	}
	if !outcome.Passed() {
		step.Failed = true
	}
	return step, nil
}

func (e *Engine) identifyByToken(ctx context.Context, s *session.Session, code string) (Step, error) {
	intruder := e.intruderDeps()
	locked, err := intruder.IsLocked(ctx, nil, s.ID)
	if err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, &flows.Fault{Kind: flows.FaultIntruder, Detail: "check intruder lock", Err: err})
	}
	if locked {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, &flows.Fault{Kind: flows.FaultLocked, Detail: "address or session is locked"})
	}

	tokens := e.tokenDeps()
	payload, outcome, err := flows.RedeemToken(ctx, tokens, code, nil)
	if err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}
	tokens.OnRedeemed(ctx, s, outcome)

	if !outcome.Passed() {
		if err := intruder.Mark(ctx, nil, s.ID); err != nil {
			return Step{Kind: StepIdentify}, e.fail(ctx, s, &flows.Fault{Kind: flows.FaultIntruder, Detail: "mark intruder", Err: err})
		}
		e.metricInc(MetricMethodFailed)
		e.log(s).WithField("reason", outcome.Reason).Info("recovery token identification failed")
		e.emitAudit(ctx, auditEventMethodFailed, false, s, session.MethodToken, ErrUserInput, func() map[string]string {
			return map[string]string{"reason": outcome.Reason}
		})
		return Step{Kind: StepIdentify, Failed: true}, nil
	}

	if err := flows.RunEstablishIdentity(ctx, s, payload.Identity, e.identifyDeps()); err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}
	if s.Flags.Uses(session.MethodToken) {
		s.MarkSatisfied(session.MethodToken)
		s.Progress.TokenIssued = true
		e.metricInc(MetricMethodPassed)
		e.emitAudit(ctx, auditEventMethodPassed, true, s, session.MethodToken, nil, nil)
	}
	return e.advance(ctx, s)
}

// ChooseOptionalMethod selects one of the methods offered by a present_choice step.
func (e *Engine) ChooseOptionalMethod(ctx context.Context, s *session.Session, m session.Method) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	ok, err := flows.RunChooseOptional(ctx, s, m, e.registry)
	if err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}
	if !ok {
		return e.rejectChoice(ctx, s)
	}
	return e.advance(ctx, s)
}

// ChooseTokenChannel picks the delivery channel when the profile leaves it to the user.
func (e *Engine) ChooseTokenChannel(ctx context.Context, s *session.Session, ch session.Channel) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	ok, err := flows.RunChooseTokenChannel(ctx, s, ch, e.tokenDeps())
	if err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}
	if !ok {
		return e.rejectChoice(ctx, s)
	}
	return e.advance(ctx, s)
}

// ChooseTerminalAction answers a present_action_choice step with unlock or reset.
func (e *Engine) ChooseTerminalAction(ctx context.Context, s *session.Session, choice session.ActionChoice) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	ok, err := flows.RunChooseAction(ctx, s, choice, e.progressDeps())
	if err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}
	if !ok {
		return e.rejectChoice(ctx, s)
	}
	return e.advance(ctx, s)
}

// rejectChoice re-renders the current step alongside ErrInvalidChoice.
func (e *Engine) rejectChoice(ctx context.Context, s *session.Session) (Step, error) {
	step, err := e.advance(ctx, s)
	if err != nil {
		return step, err
	}
	return step, ErrInvalidChoice
}

// Reset discards the identified user and all progress.
func (e *Engine) Reset(ctx context.Context, s *session.Session) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	e.emitAudit(ctx, auditEventReset, true, s, session.MethodNone, nil, nil)
	e.log(s).Debug("recovery session reset")
	s.Clear()
	return Step{Kind: StepIdentify}, nil
}

// ChangeLocale switches the session locale. Progress is discarded and directory data is
// re-read for the same user.
func (e *Engine) ChangeLocale(ctx context.Context, s *session.Session, locale string) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	previous := s.CurrentLocale
	if err := flows.RunChangeLocale(ctx, s, locale, e.identifyDeps()); err != nil {
		return Step{Kind: StepIdentify}, e.fail(ctx, s, err)
	}
	if s.CurrentLocale != previous {
		e.emitAudit(ctx, auditEventLocaleChange, true, s, session.MethodNone, nil, func() map[string]string {
			return map[string]string{"from": previous, "to": s.CurrentLocale}
		})
	}
	return e.advance(ctx, s)
}

// Advance recomputes the current step without any input.
func (e *Engine) Advance(ctx context.Context, s *session.Session) (Step, error) {
	if err := e.ready(s); err != nil {
		return Step{}, err
	}
	return e.advance(ctx, s)
}

// PasswordChanged runs the post-recovery directory writes queued for identity by an
// interactive reset. Call it once the change-password flow has stored the new password.
func (e *Engine) PasswordChanged(ctx context.Context, identity session.Identity) error {
	if e == nil || e.deferred == nil {
		return ErrEngineNotReady
	}
	if identity.IsZero() {
		return ErrNoIdentity
	}
	if err := flows.RunDeferredActions(ctx, identity, e.actionDeps()); err != nil {
		mapped := mapFault(err)
		e.logger.WithError(err).WithField("user", identity.UserDN).Warn("post-recovery actions failed")
		return mapped
	}
	return nil
}
