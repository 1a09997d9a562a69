package flows

import (
	"context"
	"strings"

	"github.com/pwm-project/pwm-sub000/session"
)

// RunIdentify searches the directory for the submitted form. A miss is a failed Outcome so
// that it is handled exactly like a wrong answer.
func RunIdentify(ctx context.Context, s *session.Session, profileID string, form map[string]string, deps IdentifyDeps) (Outcome, error) {
	normalizeIdentifyDeps(&deps)
	if deps.Search == nil || deps.ResolveFlags == nil {
		return Outcome{}, configFault("directory search is not configured")
	}

	locked, err := deps.Intruder.IsLocked(ctx, nil, s.ID)
	if err != nil {
		return Outcome{}, &Fault{Kind: FaultIntruder, Detail: "check intruder lock", Err: err}
	}
	if locked {
		return Outcome{}, lockedFault("address or session is locked")
	}

	identity, err := deps.Search(ctx, profileID, form)
	if err != nil && !deps.IsNotFound(err) {
		return Outcome{}, directoryFault("search", err)
	}
	// An empty identity without an error counts as not found.
	if err != nil || identity.IsZero() {
		if err := deps.Intruder.Mark(ctx, nil, s.ID); err != nil {
			return Outcome{}, &Fault{Kind: FaultIntruder, Detail: "mark intruder", Err: err}
		}
		deps.OnNotFound(ctx, profileID)
		return failed("no matching user"), nil
	}
	if identity.ProfileID == "" {
		identity.ProfileID = profileID
	}

	if err := RunEstablishIdentity(ctx, s, identity, deps); err != nil {
		return Outcome{}, err
	}
	return passed(), nil
}

// RunEstablishIdentity binds identity to the session after the lock checks, resolves its
// flags and loads the per-user attribute form and challenge set. Required methods that can
// never be completed for this user abort here; optional ones are filtered later by advance.
func RunEstablishIdentity(ctx context.Context, s *session.Session, identity session.Identity, deps IdentifyDeps) error {
	normalizeIdentifyDeps(&deps)
	if s.Identified() && !s.IdentifiedUser.Same(identity) {
		return configFault("session is already bound to another user")
	}
	staged := *s
	if err := establish(ctx, s, &staged, identity, deps); err != nil {
		return err
	}
	deps.OnIdentified(ctx, s)
	return nil
}

// RunChangeLocale discards progress and reloads flags and directory data for the new locale.
// The identified user is kept. The session is left untouched when a reload step fails, so
// the same request can be retried.
func RunChangeLocale(ctx context.Context, s *session.Session, locale string, deps IdentifyDeps) error {
	normalizeIdentifyDeps(&deps)
	locale = strings.TrimSpace(locale)
	if locale == "" || locale == s.CurrentLocale {
		return nil
	}
	if !s.Identified() {
		s.CurrentLocale = locale
		return nil
	}
	staged := *s
	staged.CurrentLocale = locale
	return establish(ctx, s, &staged, *s.IdentifiedUser, deps)
}

// establish prepares staged, a copy of s, and commits it to s only after every directory
// read and the required-method checks succeeded.
func establish(ctx context.Context, s, staged *session.Session, identity session.Identity, deps IdentifyDeps) error {
	if deps.ResolveFlags == nil {
		return configFault("policy resolver is not configured")
	}

	locked, err := deps.Intruder.IsLocked(ctx, &identity, s.ID)
	if err != nil {
		return &Fault{Kind: FaultIntruder, Detail: "check intruder lock", Err: err}
	}
	if locked {
		return lockedFault("user is locked by intruder detection")
	}

	flags, err := deps.ResolveFlags(identity.ProfileID)
	if err != nil {
		return &Fault{Kind: FaultConfiguration, Detail: "resolve recovery profile " + identity.ProfileID, Err: err}
	}

	dirLocked, err := deps.IsDirectoryLocked(ctx, identity)
	if err != nil {
		return directoryFault("read lock state", err)
	}
	if dirLocked && !flags.AllowWhenLocked {
		return lockedFault("directory account is locked")
	}

	bound := identity
	staged.IdentifiedUser = &bound
	staged.Flags = flags
	staged.ResetProgress()

	if err := loadUserData(ctx, staged, deps); err != nil {
		return err
	}

	for _, m := range flags.RequiredMethods {
		ok, err := deps.Registry.Satisfiable(ctx, staged, m)
		if err != nil {
			return err
		}
		if !ok {
			return configFault("required method %s cannot be satisfied for this user", m)
		}
	}
	*s = *staged
	return nil
}

func loadUserData(ctx context.Context, s *session.Session, deps IdentifyDeps) error {
	identity := *s.IdentifiedUser

	if s.Flags.Uses(session.MethodAttributes) {
		var form []session.AttributeRequirement
		for _, attr := range deps.Attributes(s.Flags.ProfileID) {
			if attr.Required {
				form = append(form, attr)
				continue
			}
			if deps.ReadAttribute == nil {
				continue
			}
			value, ok, err := deps.ReadAttribute(ctx, identity, attr.Name)
			if err != nil {
				return directoryFault("read attribute "+attr.Name, err)
			}
			if ok && strings.TrimSpace(value) != "" {
				form = append(form, attr)
			}
		}
		s.AttributeForm = form
	}

	if s.Flags.Uses(session.MethodChallengeResponses) && deps.ReadResponseSet != nil {
		rs, ok, err := deps.ReadResponseSet(ctx, identity, s.CurrentLocale)
		if err != nil {
			return directoryFault("read response set", err)
		}
		if ok && rs != nil {
			s.ChallengeContext = &session.ChallengeContext{ChallengeSet: rs.ChallengeSet()}
		}
	}
	return nil
}
