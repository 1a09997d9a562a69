package flows

import (
	"context"
	"errors"

	"github.com/pwm-project/pwm-sub000/session"
)

// RunResetPassword authenticates the session as the recovered user and queues the configured
// post-change directory writes. The caller hands off to the change-password flow and drains
// the queue through RunDeferredActions once the new password is set.
func RunResetPassword(ctx context.Context, s *session.Session, deps ActionDeps) error {
	normalizeActionDeps(&deps)
	if !s.Identified() || !s.Progress.AllPassed {
		return configFault("reset password requested before verification completed")
	}
	identity := *s.IdentifiedUser

	bestEffortUnlock(ctx, identity, deps)

	if err := deps.Authenticate(ctx, identity); err != nil {
		return directoryFault("authenticate recovered user", err)
	}
	if err := enqueueDeferred(ctx, identity, deps); err != nil {
		return err
	}
	clearIntruder(ctx, s, identity, deps)
	return nil
}

// RunSendNewPassword sets a generated password, runs the queued post-change writes, optionally
// expires the password, sends it with failover and always de-authenticates afterwards. The
// password is left alone when no destination is deliverable.
func RunSendNewPassword(ctx context.Context, s *session.Session, expire bool, deps ActionDeps) (delivered []session.Destination, err error) {
	normalizeActionDeps(&deps)
	if !s.Identified() || !s.Progress.AllPassed {
		return nil, configFault("send new password requested before verification completed")
	}
	if deps.GeneratePassword == nil || deps.SetPassword == nil || deps.SendPassword == nil || deps.Destinations == nil {
		return nil, configFault("send new password is not configured")
	}
	identity := *s.IdentifiedUser

	dests, err := deps.Destinations(ctx, identity)
	if err != nil {
		return nil, directoryFault("resolve password destinations", err)
	}
	plan, mode := PlanDelivery(deps.NewPasswordPolicy, s.Progress.TokenChannel, dests)
	if len(plan) == 0 {
		return nil, configFault("no deliverable destination for the new password")
	}

	bestEffortUnlock(ctx, identity, deps)

	if err := deps.Authenticate(ctx, identity); err != nil {
		return nil, directoryFault("authenticate recovered user", err)
	}
	defer func() {
		if derr := deps.Deauthenticate(ctx, identity); derr != nil {
			deps.Warn(ctx, "deauthenticate after send new password failed", map[string]string{"error": derr.Error()})
		}
	}()

	newPassword, err := deps.GeneratePassword(ctx, identity)
	if err != nil {
		return nil, &Fault{Kind: FaultConfiguration, Detail: "generate password", Err: err}
	}
	if err := deps.SetPassword(ctx, identity, newPassword); err != nil {
		return nil, directoryFault("set password", err)
	}

	if err := enqueueDeferred(ctx, identity, deps); err != nil {
		return nil, err
	}
	if err := RunDeferredActions(ctx, identity, deps); err != nil {
		return nil, err
	}

	if expire {
		if deps.ExpirePassword == nil {
			return nil, configFault("password expiry is not configured")
		}
		if err := deps.ExpirePassword(ctx, identity); err != nil {
			return nil, directoryFault("expire password", err)
		}
	}

	delivered, err = Deliver(ctx, plan, mode, func(ctx context.Context, d session.Destination) error {
		return deps.SendPassword(ctx, d, newPassword, identity)
	})
	if err != nil {
		return nil, &Fault{Kind: FaultNotification, Detail: "send new password", Err: err}
	}

	clearIntruder(ctx, s, identity, deps)
	return delivered, nil
}

// RunUnlock unlocks the directory account and does nothing else.
func RunUnlock(ctx context.Context, s *session.Session, deps ActionDeps) error {
	normalizeActionDeps(&deps)
	if !s.Identified() || !s.Progress.AllPassed {
		return configFault("unlock requested before verification completed")
	}
	if deps.Unlock == nil {
		return configFault("unlock is not configured")
	}
	identity := *s.IdentifiedUser
	if err := deps.Unlock(ctx, identity); err != nil {
		return directoryFault("unlock", err)
	}
	clearIntruder(ctx, s, identity, deps)
	return nil
}

// RunDeferredActions drains and runs every queued action for identity. Drain removes the
// queue atomically, so an action runs at most once even when this is called concurrently.
func RunDeferredActions(ctx context.Context, identity session.Identity, deps ActionDeps) error {
	normalizeActionDeps(&deps)
	if deps.DrainDeferred == nil {
		return nil
	}
	actions, err := deps.DrainDeferred(ctx, identity)
	if err != nil {
		return &Fault{Kind: FaultDeferred, Detail: "drain deferred actions", Err: err}
	}

	var errs []error
	for _, action := range actions {
		err := deps.WriteAttributes(ctx, action.Identity, action.Writes)
		deps.OnDeferredRun(ctx, action, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &Fault{Kind: FaultDeferred, Detail: "run deferred actions", Err: errors.Join(errs...)}
	}
	return nil
}

func enqueueDeferred(ctx context.Context, identity session.Identity, deps ActionDeps) error {
	writes := deps.DeferredWrites(identity.ProfileID)
	if len(writes) == 0 || deps.EnqueueDeferred == nil {
		return nil
	}
	action := DeferredAction{Name: deps.DeferredName, Identity: identity, Writes: writes}
	if err := deps.EnqueueDeferred(ctx, action); err != nil {
		return &Fault{Kind: FaultDeferred, Detail: "enqueue deferred action", Err: err}
	}
	return nil
}

func bestEffortUnlock(ctx context.Context, identity session.Identity, deps ActionDeps) {
	if deps.Unlock == nil {
		return
	}
	if err := deps.Unlock(ctx, identity); err != nil {
		deps.Warn(ctx, "unlock before password action failed", map[string]string{"error": err.Error()})
	}
}

func clearIntruder(ctx context.Context, s *session.Session, identity session.Identity, deps ActionDeps) {
	if err := deps.Intruder.Clear(ctx, &identity, s.ID); err != nil {
		deps.Warn(ctx, "clear intruder marks failed", map[string]string{"error": err.Error()})
	}
}
