package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pwm-project/pwm-sub000/internal/audit"
	"github.com/pwm-project/pwm-sub000/internal/flows"
	"github.com/pwm-project/pwm-sub000/internal/stores"
	"github.com/pwm-project/pwm-sub000/jwt"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/sirupsen/logrus"
)

// Engine defines a public type used by recovery APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config        Config
	directory     Directory
	notifier      Notifier
	tokens        TokenStore
	otp           OTPService
	intruder      IntruderGuard
	authenticator Authenticator
	generator     PasswordGenerator
	sessions      *session.Store
	deferred      *stores.DeferredActionStore
	authRecords   *jwt.Manager
	registry      flows.Registry
	audit         *audit.Dispatcher
	metrics       *Metrics
	logger        *logrus.Logger
}

// Close flushes buffered audit events and stops the audit worker.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditTallies returns emitted and dropped counts keyed by audit event type, such as
// recovery_identify or recovery_method_failed.
func (e *Engine) AuditTallies() map[string]AuditTally {
	if e == nil || e.audit == nil {
		return map[string]AuditTally{}
	}
	return e.audit.Tallies()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Sessions returns the Redis session store configured for this engine.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// NewSession returns an empty recovery session. An empty locale selects the configured default.
func (e *Engine) NewSession(id, locale string) *session.Session {
	if locale == "" {
		locale = e.config.Session.DefaultLocale
	}
	return session.New(id, locale)
}

// IssueAuthRecord signs a record stating that identity authenticated with mode. Callers set it
// after a regular login so that a later recovery can satisfy PREVIOUS_AUTH.
func (e *Engine) IssueAuthRecord(identity session.Identity, mode AuthMode) (string, error) {
	if e == nil || e.authRecords == nil {
		return "", ErrEngineNotReady
	}
	return e.authRecords.CreateAuthRecord(identity.GUID, identity.UserDN, identity.ProfileID, string(mode))
}

// ParseAuthRecord verifies a record signed by IssueAuthRecord and returns the identity and
// mode it carries. Records that fail verification wrap ErrAuthRecordInvalid.
func (e *Engine) ParseAuthRecord(raw string) (session.Identity, AuthMode, error) {
	if e == nil || e.authRecords == nil {
		return session.Identity{}, "", ErrEngineNotReady
	}
	claims, err := e.authRecords.ParseAuthRecord(raw)
	if err != nil {
		return session.Identity{}, "", fmt.Errorf("%w: %v", ErrAuthRecordInvalid, err)
	}
	return session.Identity{GUID: claims.GUID, UserDN: claims.UserDN, ProfileID: claims.Profile}, AuthMode(claims.Mode), nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) log(s *session.Session) *logrus.Entry {
	fields := logrus.Fields{}
	if s != nil {
		fields["session"] = s.ID
		if s.Flags.ProfileID != "" {
			fields["profile"] = s.Flags.ProfileID
		}
		if s.IdentifiedUser != nil {
			fields["user"] = s.IdentifiedUser.UserDN
		}
	}
	return e.logger.WithFields(fields)
}

// advance recomputes the next step and runs a terminal action when one is due.
func (e *Engine) advance(ctx context.Context, s *session.Session) (Step, error) {
	next, err := flows.RunAdvance(ctx, s, e.progressDeps())
	if err != nil {
		return Step{}, e.fail(ctx, s, err)
	}
	if next.Kind == flows.StepDispatch {
		return e.dispatch(ctx, s, next.Dispatch)
	}
	return e.stepFor(s, next), nil
}

func (e *Engine) stepFor(s *session.Session, next flows.NextStep) Step {
	step := Step{Method: next.Method}
	switch next.Kind {
	case flows.StepIdentify:
		step.Kind = StepIdentify
	case flows.StepPresent:
		step.Kind = StepPresent
	case flows.StepPresentChoice:
		step.Kind = StepPresentChoice
		step.Choices = append([]session.Method(nil), next.Choices...)
	case flows.StepPresentTokenChannel:
		step.Kind = StepPresentTokenChannel
		step.Channels = next.Channels
	case flows.StepPresentActionChoice:
		step.Kind = StepPresentActionChoice
		step.Actions = next.Actions
	}

	switch step.Method {
	case session.MethodAttributes:
		step.Attributes = append([]session.AttributeRequirement(nil), s.AttributeForm...)
	case session.MethodChallengeResponses:
		if s.ChallengeContext != nil {
			set := s.ChallengeContext.ChallengeSet
			step.ChallengeSet = &set
		}
	case session.MethodToken:
		step.TokenDestination = s.Progress.TokenDestination
	}
	return step
}

// fail maps a flow fault to a sentinel. Fatal faults clear the session; everything else
// leaves it intact so the request can be retried.
func (e *Engine) fail(ctx context.Context, s *session.Session, err error) error {
	mapped := mapFault(err)
	if !IsFatal(mapped) {
		e.log(s).WithError(err).Warn("recovery step failed")
		return mapped
	}

	switch {
	case errors.Is(mapped, ErrLocked):
		e.metricInc(MetricLockedRejected)
		e.log(s).WithError(err).Info("recovery rejected for locked account")
	default:
		e.metricInc(MetricConfigurationError)
		e.log(s).WithError(err).Error("recovery configuration error")
	}
	e.emitAudit(ctx, auditEventFatal, false, s, session.MethodNone, mapped, nil)
	s.Clear()
	return mapped
}

// dispatch runs a terminal action. The session is cleared whether or not it succeeds.
func (e *Engine) dispatch(ctx context.Context, s *session.Session, d flows.Dispatch) (Step, error) {
	start := time.Now()
	identity := *s.IdentifiedUser
	logger := e.log(s).WithField("action", d.String())
	deps := e.actionDeps()

	completion := &Completion{Action: d.String(), Identity: identity}
	var err error
	switch d {
	case flows.DispatchResetPassword:
		err = flows.RunResetPassword(ctx, s, deps)
		completion.RequirePasswordChange = true
	case flows.DispatchSendNewPassword:
		expire := s.Flags.TerminalAction == session.TerminalSendNewPasswordAndExpire
		var delivered []session.Destination
		delivered, err = flows.RunSendNewPassword(ctx, s, expire, deps)
		completion.Delivered = flows.MaskDestinations(delivered)
	case flows.DispatchUnlock:
		err = flows.RunUnlock(ctx, s, deps)
	default:
		err = &flows.Fault{Kind: flows.FaultConfiguration, Detail: "unknown terminal action " + d.String()}
	}
	e.metricObserve(MetricActionLatency, time.Since(start))

	if err != nil {
		mapped := mapFault(err)
		logger.WithError(err).Error("recovery action failed")
		e.emitAudit(ctx, auditEventAction, false, s, session.MethodNone, mapped, func() map[string]string {
			return map[string]string{"action": d.String()}
		})
		s.Clear()
		return Step{Kind: StepIdentify}, mapped
	}

	switch d {
	case flows.DispatchResetPassword:
		e.metricInc(MetricResetPassword)
		if e.authRecords != nil {
			record, rerr := e.authRecords.CreateAuthRecord(identity.GUID, identity.UserDN, identity.ProfileID, string(AuthModeRecoveredNoPassword))
			if rerr != nil {
				logger.WithError(rerr).Warn("sign recovered authentication record failed")
			}
			completion.AuthRecord = record
		}
	case flows.DispatchSendNewPassword:
		e.metricInc(MetricSendNewPassword)
	case flows.DispatchUnlock:
		e.metricInc(MetricUnlockOnly)
	}

	logger.Info("recovery action completed")
	e.emitAudit(ctx, auditEventAction, true, s, session.MethodNone, nil, func() map[string]string {
		meta := map[string]string{"action": d.String()}
		if completion.Delivered != "" {
			meta["delivered"] = completion.Delivered
		}
		return meta
	})
	s.Clear()
	return Step{Kind: StepComplete, Completion: completion}, nil
}
