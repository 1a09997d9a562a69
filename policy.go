package recovery

import (
	"fmt"

	"github.com/pwm-project/pwm-sub000/session"
)

// ResolveFlags turns a profile into the flags a session runs under. It is pure and does not
// repair inconsistent profiles: a MinOptionalRequired larger than the optional method count
// is carried through unchanged.
func ResolveFlags(profileID string, p ProfileConfig) session.Flags {
	return session.Flags{
		ProfileID:           profileID,
		RequiredMethods:     session.NewMethodSet(p.RequiredMethods...),
		OptionalMethods:     session.NewMethodSet(p.OptionalMethods...),
		MinOptionalRequired: p.MinOptionalRequired,
		TokenChannelPolicy:  p.TokenChannelPolicy,
		AllowWhenLocked:     p.AllowWhenLocked,
		TerminalAction:      p.TerminalAction,
		AllowUnlockChoice:   p.AllowUnlockChoice,
	}
}

// ResolveFlags resolves the flags for a configured profile. An empty id selects the
// default profile.
func (e *Engine) ResolveFlags(profileID string) (session.Flags, error) {
	id, p, err := e.profile(profileID)
	if err != nil {
		return session.Flags{}, err
	}
	return ResolveFlags(id, p), nil
}

func (e *Engine) profile(profileID string) (string, ProfileConfig, error) {
	if profileID == "" {
		profileID = e.config.DefaultProfile
	}
	p, ok := e.config.Profiles[profileID]
	if !ok {
		return "", ProfileConfig{}, fmt.Errorf("%w: %q", ErrProfileNotFound, profileID)
	}
	return profileID, p, nil
}

// SearchAttributes lists the identification form fields of a profile.
func (e *Engine) SearchAttributes(profileID string) ([]string, error) {
	_, p, err := e.profile(profileID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), p.SearchAttributes...), nil
}
