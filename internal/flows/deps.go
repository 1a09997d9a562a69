package flows

import (
	"context"

	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/session"
)

type MethodDeps struct {
	PreviousAuthRecord func(context.Context) (session.Identity, bool)

	ReadAttribute    func(context.Context, session.Identity, string) (string, bool, error)
	CompareAttribute func(context.Context, session.Identity, string, string) (bool, error)

	ReadResponseSet func(context.Context, session.Identity, string) (session.ResponseSet, bool, error)
	ChallengePolicy func(profileID string) session.ChallengePolicy

	ReadOTPRecord func(context.Context, session.Identity) (otp.Record, bool, error)
	ValidateOTP   func(context.Context, session.Identity, otp.Record, string, bool) (bool, error)

	Token TokenDeps
}

type TokenDeps struct {
	Name         string
	Destinations func(context.Context, session.Identity) ([]session.Destination, error)
	Fingerprint  func(context.Context, session.Identity) (string, error)
	Create       func(string, map[string]string, session.Identity, []session.Destination) session.TokenPayload
	Issue        func(context.Context, session.TokenPayload) (string, error)
	Redeem       func(context.Context, string) (session.TokenPayload, bool, error)
	Send         func(context.Context, session.Destination, string, session.Identity) error

	OnIssued   func(context.Context, *session.Session, []session.Destination)
	OnRedeemed func(context.Context, *session.Session, Outcome)
}

func normalizeMethodDeps(deps *MethodDeps) {
	if deps.PreviousAuthRecord == nil {
		deps.PreviousAuthRecord = func(context.Context) (session.Identity, bool) { return session.Identity{}, false }
	}
	if deps.ChallengePolicy == nil {
		deps.ChallengePolicy = func(string) session.ChallengePolicy { return session.ChallengePolicy{} }
	}
	normalizeTokenDeps(&deps.Token)
}

func normalizeTokenDeps(deps *TokenDeps) {
	if deps.Name == "" {
		deps.Name = "recovery-token"
	}
	if deps.OnIssued == nil {
		deps.OnIssued = func(context.Context, *session.Session, []session.Destination) {}
	}
	if deps.OnRedeemed == nil {
		deps.OnRedeemed = func(context.Context, *session.Session, Outcome) {}
	}
}

type ProgressDeps struct {
	Registry          Registry
	Token             TokenDeps
	IsDirectoryLocked func(context.Context, session.Identity) (bool, error)
	IsPasswordExpired func(context.Context, session.Identity) (bool, error)

	OnMethodPassed func(context.Context, *session.Session, session.Method)
	OnAllPassed    func(context.Context, *session.Session)
}

func normalizeProgressDeps(deps *ProgressDeps) {
	if deps.Registry == nil {
		deps.Registry = Registry{}
	}
	normalizeTokenDeps(&deps.Token)
	if deps.IsDirectoryLocked == nil {
		deps.IsDirectoryLocked = func(context.Context, session.Identity) (bool, error) { return false, nil }
	}
	if deps.IsPasswordExpired == nil {
		deps.IsPasswordExpired = func(context.Context, session.Identity) (bool, error) { return false, nil }
	}
	if deps.OnMethodPassed == nil {
		deps.OnMethodPassed = func(context.Context, *session.Session, session.Method) {}
	}
	if deps.OnAllPassed == nil {
		deps.OnAllPassed = func(context.Context, *session.Session) {}
	}
}

type IdentifyDeps struct {
	Registry Registry

	Search            func(context.Context, string, map[string]string) (session.Identity, error)
	IsNotFound        func(error) bool
	ResolveFlags      func(profileID string) (session.Flags, error)
	Attributes        func(profileID string) []session.AttributeRequirement
	ReadAttribute     func(context.Context, session.Identity, string) (string, bool, error)
	ReadResponseSet   func(context.Context, session.Identity, string) (session.ResponseSet, bool, error)
	IsDirectoryLocked func(context.Context, session.Identity) (bool, error)

	Intruder IntruderDeps

	OnIdentified func(context.Context, *session.Session)
	OnNotFound   func(context.Context, string)
}

func normalizeIdentifyDeps(deps *IdentifyDeps) {
	if deps.Registry == nil {
		deps.Registry = Registry{}
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.Attributes == nil {
		deps.Attributes = func(string) []session.AttributeRequirement { return nil }
	}
	if deps.IsDirectoryLocked == nil {
		deps.IsDirectoryLocked = func(context.Context, session.Identity) (bool, error) { return false, nil }
	}
	normalizeIntruderDeps(&deps.Intruder)
	if deps.OnIdentified == nil {
		deps.OnIdentified = func(context.Context, *session.Session) {}
	}
	if deps.OnNotFound == nil {
		deps.OnNotFound = func(context.Context, string) {}
	}
}

// IntruderDeps bundles the intruder-guard calls a flow needs. Mark and Clear receive a nil
// identity when only the address and session are known.
type IntruderDeps struct {
	IsLocked func(context.Context, *session.Identity, string) (bool, error)
	Mark     func(context.Context, *session.Identity, string) error
	Clear    func(context.Context, *session.Identity, string) error
}

func normalizeIntruderDeps(deps *IntruderDeps) {
	if deps.IsLocked == nil {
		deps.IsLocked = func(context.Context, *session.Identity, string) (bool, error) { return false, nil }
	}
	if deps.Mark == nil {
		deps.Mark = func(context.Context, *session.Identity, string) error { return nil }
	}
	if deps.Clear == nil {
		deps.Clear = func(context.Context, *session.Identity, string) error { return nil }
	}
}

type SubmitDeps struct {
	Registry Registry
	Intruder IntruderDeps

	OnPassed func(context.Context, *session.Session, session.Method)
	OnFailed func(context.Context, *session.Session, session.Method, Outcome)
}

func normalizeSubmitDeps(deps *SubmitDeps) {
	if deps.Registry == nil {
		deps.Registry = Registry{}
	}
	normalizeIntruderDeps(&deps.Intruder)
	if deps.OnPassed == nil {
		deps.OnPassed = func(context.Context, *session.Session, session.Method) {}
	}
	if deps.OnFailed == nil {
		deps.OnFailed = func(context.Context, *session.Session, session.Method, Outcome) {}
	}
}

// DeferredAction mirrors the queued post-password-change work item.
type DeferredAction struct {
	ID       string
	Name     string
	Identity session.Identity
	Writes   map[string]string
}

type ActionDeps struct {
	DeferredName   string
	DeferredWrites func(profileID string) map[string]string

	Unlock           func(context.Context, session.Identity) error
	Authenticate     func(context.Context, session.Identity) error
	Deauthenticate   func(context.Context, session.Identity) error
	GeneratePassword func(context.Context, session.Identity) (string, error)
	SetPassword      func(context.Context, session.Identity, string) error
	ExpirePassword   func(context.Context, session.Identity) error
	WriteAttributes  func(context.Context, session.Identity, map[string]string) error

	EnqueueDeferred func(context.Context, DeferredAction) error
	DrainDeferred   func(context.Context, session.Identity) ([]DeferredAction, error)

	Destinations      func(context.Context, session.Identity) ([]session.Destination, error)
	NewPasswordPolicy session.ChannelPolicy
	SendPassword      func(context.Context, session.Destination, string, session.Identity) error

	Intruder IntruderDeps

	Warn          func(context.Context, string, map[string]string)
	OnDeferredRun func(context.Context, DeferredAction, error)
}

func normalizeActionDeps(deps *ActionDeps) {
	if deps.DeferredName == "" {
		deps.DeferredName = "recovery-post-actions"
	}
	if deps.DeferredWrites == nil {
		deps.DeferredWrites = func(string) map[string]string { return nil }
	}
	if deps.Authenticate == nil {
		deps.Authenticate = func(context.Context, session.Identity) error { return nil }
	}
	if deps.Deauthenticate == nil {
		deps.Deauthenticate = func(context.Context, session.Identity) error { return nil }
	}
	if deps.WriteAttributes == nil {
		deps.WriteAttributes = func(context.Context, session.Identity, map[string]string) error { return nil }
	}
	normalizeIntruderDeps(&deps.Intruder)
	if deps.Warn == nil {
		deps.Warn = func(context.Context, string, map[string]string) {}
	}
	if deps.OnDeferredRun == nil {
		deps.OnDeferredRun = func(context.Context, DeferredAction, error) {}
	}
}
