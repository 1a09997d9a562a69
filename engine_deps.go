package recovery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/pwm-project/pwm-sub000/internal/flows"
	"github.com/pwm-project/pwm-sub000/internal/limiters"
	"github.com/pwm-project/pwm-sub000/internal/stores"
	"github.com/pwm-project/pwm-sub000/session"
)

func (e *Engine) methodDeps() flows.MethodDeps {
	deps := flows.MethodDeps{
		PreviousAuthRecord: e.previousAuthRecord,
		ReadAttribute:      e.directory.ReadAttribute,
		CompareAttribute:   e.directory.CompareAttribute,
		ReadResponseSet:    e.directory.ReadResponseSet,
		ChallengePolicy: func(profileID string) session.ChallengePolicy {
			return e.config.Profiles[profileID].Challenge
		},
		Token: e.tokenDeps(),
	}
	if e.otp != nil {
		deps.ReadOTPRecord = e.otp.ReadRecord
		deps.ValidateOTP = e.otp.Validate
	}
	return deps
}

func (e *Engine) tokenDeps() flows.TokenDeps {
	return flows.TokenDeps{
		Name:         e.config.Token.Name,
		Destinations: e.destinations,
		Fingerprint:  e.fingerprint,
		Create:       e.tokens.Create,
		Issue:        e.tokens.Issue,
		Redeem:       e.tokens.Redeem,
		Send:         e.sendToken,
		OnIssued: func(ctx context.Context, s *session.Session, delivered []session.Destination) {
			e.metricInc(MetricTokenIssued)
			e.log(s).WithField("delivered", len(delivered)).Info("recovery token issued")
			e.emitAudit(ctx, auditEventTokenIssued, true, s, session.MethodToken, nil, func() map[string]string {
				return map[string]string{"destination": s.Progress.TokenDestination}
			})
		},
		OnRedeemed: func(ctx context.Context, s *session.Session, outcome flows.Outcome) {
			switch {
			case outcome.Passed():
				e.metricInc(MetricTokenRedeemed)
			case outcome.Reason == "stale token":
				e.metricInc(MetricTokenStale)
			}
		},
	}
}

func (e *Engine) progressDeps() flows.ProgressDeps {
	return flows.ProgressDeps{
		Registry:          e.registry,
		Token:             e.tokenDeps(),
		IsDirectoryLocked: e.directory.IsLocked,
		IsPasswordExpired: e.directory.IsPasswordExpired,
		OnMethodPassed: func(ctx context.Context, s *session.Session, m session.Method) {
			e.metricInc(MetricMethodPassed)
			e.emitAudit(ctx, auditEventMethodPassed, true, s, m, nil, nil)
		},
		OnAllPassed: func(ctx context.Context, s *session.Session) {
			e.metricInc(MetricRecoveryVerified)
			e.log(s).Info("recovery verification complete")
			e.emitAudit(ctx, auditEventVerified, true, s, session.MethodNone, nil, func() map[string]string {
				return map[string]string{"satisfied": joinMethods(s.Progress.Satisfied)}
			})
		},
	}
}

func (e *Engine) identifyDeps() flows.IdentifyDeps {
	return flows.IdentifyDeps{
		Registry: e.registry,
		Search:   e.directory.Search,
		IsNotFound: func(err error) bool {
			return errors.Is(err, ErrIdentityNotFound)
		},
		ResolveFlags: e.ResolveFlags,
		Attributes: func(profileID string) []session.AttributeRequirement {
			return e.config.Profiles[profileID].Attributes
		},
		ReadAttribute:     e.directory.ReadAttribute,
		ReadResponseSet:   e.directory.ReadResponseSet,
		IsDirectoryLocked: e.directory.IsLocked,
		Intruder:          e.intruderDeps(),
		OnIdentified: func(ctx context.Context, s *session.Session) {
			e.metricInc(MetricIdentifySuccess)
			e.log(s).Info("recovery user identified")
			e.emitAudit(ctx, auditEventIdentify, true, s, session.MethodNone, nil, nil)
		},
		OnNotFound: func(ctx context.Context, profileID string) {
			e.metricInc(MetricIdentifyFailure)
			e.emitAudit(ctx, auditEventIdentify, false, nil, session.MethodNone, ErrIdentityNotFound, func() map[string]string {
				return map[string]string{"profile": profileID}
			})
		},
	}
}

func (e *Engine) submitDeps() flows.SubmitDeps {
	return flows.SubmitDeps{
		Registry: e.registry,
		Intruder: e.intruderDeps(),
		OnPassed: func(ctx context.Context, s *session.Session, m session.Method) {
			e.metricInc(MetricMethodPassed)
			e.emitAudit(ctx, auditEventMethodPassed, true, s, m, nil, nil)
		},
		OnFailed: func(ctx context.Context, s *session.Session, m session.Method, outcome flows.Outcome) {
			e.metricInc(MetricMethodFailed)
			e.log(s).WithFields(map[string]any{"method": m.String(), "reason": outcome.Reason}).Info("recovery verification failed")
			e.emitAudit(ctx, auditEventMethodFailed, false, s, m, ErrUserInput, func() map[string]string {
				return map[string]string{"reason": outcome.Reason}
			})
		},
	}
}

func (e *Engine) actionDeps() flows.ActionDeps {
	deps := flows.ActionDeps{
		DeferredWrites: func(profileID string) map[string]string {
			return e.config.Profiles[profileID].PostRecoveryWrites
		},
		Unlock:          e.directory.Unlock,
		SetPassword:     e.directory.SetPassword,
		ExpirePassword:  e.directory.ExpirePassword,
		WriteAttributes: e.directory.WriteAttributes,
		EnqueueDeferred: func(ctx context.Context, action flows.DeferredAction) error {
			_, err := e.deferred.Enqueue(ctx, stores.DeferredAction{
				ID:       action.ID,
				Name:     action.Name,
				Identity: action.Identity,
				Writes:   action.Writes,
			})
			return err
		},
		DrainDeferred: func(ctx context.Context, id session.Identity) ([]flows.DeferredAction, error) {
			queued, err := e.deferred.Drain(ctx, id)
			if err != nil {
				return nil, err
			}
			out := make([]flows.DeferredAction, 0, len(queued))
			for _, a := range queued {
				out = append(out, flows.DeferredAction{ID: a.ID, Name: a.Name, Identity: a.Identity, Writes: a.Writes})
			}
			return out, nil
		},
		GeneratePassword: func(context.Context, session.Identity) (string, error) {
			return e.generator.Generate()
		},
		Destinations:      e.destinations,
		NewPasswordPolicy: e.config.NewPassword.ChannelPolicy,
		SendPassword:      e.sendPassword,
		Intruder:          e.intruderDeps(),
		Warn: func(_ context.Context, msg string, fields map[string]string) {
			entry := e.logger.WithField("component", "recovery_action")
			for k, v := range fields {
				entry = entry.WithField(k, v)
			}
			entry.Warn(msg)
		},
		OnDeferredRun: func(_ context.Context, action flows.DeferredAction, err error) {
			e.metricInc(MetricDeferredActionRun)
			entry := e.logger.WithFields(map[string]any{"action": action.Name, "user": action.Identity.UserDN})
			if err != nil {
				entry.WithError(err).Warn("deferred post-recovery action failed")
				return
			}
			entry.Info("deferred post-recovery action applied")
		},
	}
	if e.authenticator != nil {
		deps.Authenticate = func(ctx context.Context, id session.Identity) error {
			return e.authenticator.Authenticate(ctx, id, AuthModeRecoveredNoPassword)
		}
		deps.Deauthenticate = e.authenticator.Deauthenticate
	}
	return deps
}

// intruderDeps maps a flow's (identity, session) pair onto user, address and session subjects.
func (e *Engine) intruderDeps() flows.IntruderDeps {
	subjects := func(ctx context.Context, id *session.Identity, sessionID string) []IntruderSubject {
		var out []IntruderSubject
		if id != nil {
			if key := intruderUserKey(*id); key != "" {
				out = append(out, IntruderSubject{Kind: IntruderUser, Value: key})
			}
		}
		if ip := ClientIPFromContext(ctx); ip != "" {
			out = append(out, IntruderSubject{Kind: IntruderAddress, Value: ip})
		}
		if sessionID != "" {
			out = append(out, IntruderSubject{Kind: IntruderSession, Value: sessionID})
		}
		return out
	}

	return flows.IntruderDeps{
		IsLocked: func(ctx context.Context, id *session.Identity, sessionID string) (bool, error) {
			for _, subject := range subjects(ctx, id, sessionID) {
				locked, err := e.intruder.IsLocked(ctx, subject)
				if err != nil || locked {
					return locked, err
				}
			}
			return false, nil
		},
		Mark: func(ctx context.Context, id *session.Identity, sessionID string) error {
			var errs []error
			for _, subject := range subjects(ctx, id, sessionID) {
				if err := e.intruder.Mark(ctx, subject); err != nil {
					errs = append(errs, err)
					continue
				}
				e.metricInc(MetricIntruderMark)
			}
			return errors.Join(errs...)
		},
		Clear: func(ctx context.Context, id *session.Identity, sessionID string) error {
			var errs []error
			for _, subject := range subjects(ctx, id, sessionID) {
				if err := e.intruder.Clear(ctx, subject); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

func intruderUserKey(id session.Identity) string {
	if id.GUID != "" {
		return id.GUID
	}
	return id.UserDN
}

// previousAuthRecord parses the record attached with WithAuthRecord. Records minted by this
// engine for recovered sessions never count as previous authentication.
func (e *Engine) previousAuthRecord(ctx context.Context) (session.Identity, bool) {
	if e.authRecords == nil {
		return session.Identity{}, false
	}
	raw := AuthRecordFromContext(ctx)
	if raw == "" {
		return session.Identity{}, false
	}
	identity, mode, err := e.ParseAuthRecord(raw)
	if err != nil {
		e.logger.WithError(err).Warn("authentication record rejected")
		return session.Identity{}, false
	}
	if mode == AuthModeRecoveredNoPassword {
		return session.Identity{}, false
	}
	return identity, true
}

func (e *Engine) destinations(ctx context.Context, id session.Identity) ([]session.Destination, error) {
	var out []session.Destination
	read := func(attr string, ch session.Channel) error {
		if attr == "" {
			return nil
		}
		value, ok, err := e.directory.ReadAttribute(ctx, id, attr)
		if err != nil {
			return err
		}
		if ok && strings.TrimSpace(value) != "" {
			out = append(out, session.Destination{Channel: ch, Address: strings.TrimSpace(value)})
		}
		return nil
	}
	if err := read(e.config.Notification.EmailAttribute, session.ChannelEmail); err != nil {
		return nil, err
	}
	if err := read(e.config.Notification.SMSAttribute, session.ChannelSMS); err != nil {
		return nil, err
	}
	return out, nil
}

// fingerprint binds a token to the user's current password generation.
func (e *Engine) fingerprint(ctx context.Context, id session.Identity) (string, error) {
	value, _, err := e.directory.ReadAttribute(ctx, id, e.config.Token.PasswordChangeAttribute)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, e.config.Token.FingerprintKey)
	mac.Write([]byte(id.GUID))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (e *Engine) sendToken(ctx context.Context, d session.Destination, code string, id session.Identity) error {
	n := e.config.Notification
	return e.deliver(ctx, d, id, n.TokenEmailSubject, n.TokenEmailBody, n.TokenSMSBody, "{code}", code)
}

func (e *Engine) sendPassword(ctx context.Context, d session.Destination, pw string, id session.Identity) error {
	n := e.config.Notification
	return e.deliver(ctx, d, id, n.PasswordEmailSubject, n.PasswordEmailBody, n.PasswordSMSBody, "{password}", pw)
}

func (e *Engine) deliver(ctx context.Context, d session.Destination, id session.Identity, subject, emailBody, smsBody, placeholder, secret string) error {
	if e.notifier == nil {
		return ErrNotificationFailed
	}
	render := strings.NewReplacer(placeholder, secret, "{user}", displayName(id))

	var err error
	switch d.Channel {
	case session.ChannelEmail:
		err = e.notifier.SendEmail(ctx, session.EmailItem{
			To:      d.Address,
			From:    e.config.Notification.EmailFrom,
			Subject: subject,
			Body:    render.Replace(emailBody),
		}, id)
	case session.ChannelSMS:
		err = e.notifier.SendSMS(ctx, d.Address, render.Replace(smsBody), id)
	default:
		err = errors.New("unsupported channel " + d.Channel.String())
	}
	if err != nil {
		e.metricInc(MetricNotificationFailure)
		e.logger.WithError(err).WithField("channel", d.Channel.String()).Warn("recovery notification failed")
	}
	return err
}

func displayName(id session.Identity) string {
	if id.UserDN != "" {
		return id.UserDN
	}
	return id.GUID
}

func joinMethods(set session.MethodSet) string {
	names := make([]string, len(set))
	for i, m := range set {
		names[i] = m.String()
	}
	return strings.Join(names, ",")
}

// redisIntruderGuard adapts the Redis limiter to IntruderGuard.
type redisIntruderGuard struct {
	limiter *limiters.IntruderLimiter
}

func (g *redisIntruderGuard) subject(s IntruderSubject) limiters.Subject {
	kind := limiters.SubjectSession
	switch s.Kind {
	case IntruderUser:
		kind = limiters.SubjectUser
	case IntruderAddress:
		kind = limiters.SubjectAddress
	}
	return limiters.Subject{Kind: kind, Value: s.Value}
}

func (g *redisIntruderGuard) Mark(ctx context.Context, s IntruderSubject) error {
	_, err := g.limiter.Mark(ctx, g.subject(s))
	return mapIntruderError(err)
}

func (g *redisIntruderGuard) Clear(ctx context.Context, s IntruderSubject) error {
	return mapIntruderError(g.limiter.Clear(ctx, g.subject(s)))
}

func (g *redisIntruderGuard) IsLocked(ctx context.Context, s IntruderSubject) (bool, error) {
	locked, err := g.limiter.IsLocked(ctx, g.subject(s))
	return locked, mapIntruderError(err)
}

func mapIntruderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrIntruderUnavailable) {
		return errors.Join(ErrIntruderUnavailable, err)
	}
	return err
}
