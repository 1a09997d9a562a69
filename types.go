package recovery

import (
	"context"

	"github.com/pwm-project/pwm-sub000/otp"
	"github.com/pwm-project/pwm-sub000/session"
)

// Directory is the user directory the engine verifies against and mutates on completion.
//
// Search returns an error wrapping [ErrIdentityNotFound] when nobody matches. Any other
// error from any method is treated as the directory being unavailable.
type Directory interface {
	Search(ctx context.Context, profileID string, form map[string]string) (session.Identity, error)
	ReadAttribute(ctx context.Context, id session.Identity, name string) (string, bool, error)
	CompareAttribute(ctx context.Context, id session.Identity, name, value string) (bool, error)
	Unlock(ctx context.Context, id session.Identity) error
	IsLocked(ctx context.Context, id session.Identity) (bool, error)
	IsPasswordExpired(ctx context.Context, id session.Identity) (bool, error)
	ReadResponseSet(ctx context.Context, id session.Identity, locale string) (session.ResponseSet, bool, error)
	ExpirePassword(ctx context.Context, id session.Identity) error
	SetPassword(ctx context.Context, id session.Identity, value string) error
	WriteAttributes(ctx context.Context, id session.Identity, values map[string]string) error
}

// TokenStore issues and redeems single-use out-of-band tokens.
type TokenStore interface {
	Create(name string, data map[string]string, identity session.Identity, destinations []session.Destination) session.TokenPayload
	Issue(ctx context.Context, payload session.TokenPayload) (string, error)
	Redeem(ctx context.Context, key string) (session.TokenPayload, bool, error)
}

// Notifier delivers tokens and generated passwords.
type Notifier interface {
	SendEmail(ctx context.Context, item session.EmailItem, identity session.Identity) error
	SendSMS(ctx context.Context, number, message string, identity session.Identity) error
}

// OTPService reads and validates a user's one-time passcode record.
type OTPService interface {
	ReadRecord(ctx context.Context, id session.Identity) (otp.Record, bool, error)
	Validate(ctx context.Context, id session.Identity, record otp.Record, code string, allowRepair bool) (bool, error)
}

// IntruderSubjectKind selects which counter an intruder mark applies to.
type IntruderSubjectKind uint8

const (
	IntruderUser IntruderSubjectKind = iota + 1
	IntruderAddress
	IntruderSession
)

// IntruderSubject is one tracked party: a user GUID, a client address or a session id.
type IntruderSubject struct {
	Kind  IntruderSubjectKind
	Value string
}

// IntruderGuard records failed attempts and reports lockouts.
type IntruderGuard interface {
	Mark(ctx context.Context, subject IntruderSubject) error
	Clear(ctx context.Context, subject IntruderSubject) error
	IsLocked(ctx context.Context, subject IntruderSubject) (bool, error)
}

// AuthMode names how an authenticated session came to be.
type AuthMode string

const (
	// AuthModeRecoveredNoPassword marks a session authenticated by public recovery. The user's
	// password is unknown to it.
	AuthModeRecoveredNoPassword AuthMode = "recovered_no_password"
	// AuthModePassword marks a regular password login.
	AuthModePassword AuthMode = "password"
)

// Authenticator binds the caller's web session to a recovered user. It is optional; without
// one the engine only signs an authentication record into the completion.
type Authenticator interface {
	Authenticate(ctx context.Context, id session.Identity, mode AuthMode) error
	Deauthenticate(ctx context.Context, id session.Identity) error
}

// StepKind says what the caller must render next.
type StepKind uint8

const (
	// StepIdentify asks for the identification form.
	StepIdentify StepKind = iota
	// StepPresent shows one verification method.
	StepPresent
	// StepPresentChoice lets the user pick among optional methods.
	StepPresentChoice
	// StepPresentTokenChannel lets the user pick email or SMS for the token.
	StepPresentTokenChannel
	// StepPresentActionChoice offers unlock or reset.
	StepPresentActionChoice
	// StepComplete reports a finished terminal action. The session has been cleared.
	StepComplete
)

func (k StepKind) String() string {
	switch k {
	case StepPresent:
		return "present"
	case StepPresentChoice:
		return "present_choice"
	case StepPresentTokenChannel:
		return "present_token_channel"
	case StepPresentActionChoice:
		return "present_action_choice"
	case StepComplete:
		return "complete"
	default:
		return "identify"
	}
}

func (k StepKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Step is the engine's answer to one inbound event.
type Step struct {
	Kind     StepKind               `json:"kind"`
	Method   session.Method         `json:"method,omitempty"`
	Choices  []session.Method       `json:"choices,omitempty"`
	Channels []session.Channel      `json:"channels,omitempty"`
	Actions  []session.ActionChoice `json:"actions,omitempty"`

	// Failed is set when the submission that produced this step did not pass.
	Failed bool `json:"failed,omitempty"`

	TokenDestination string                         `json:"token_destination,omitempty"`
	ChallengeSet     *session.ChallengeSet          `json:"challenge_set,omitempty"`
	Attributes       []session.AttributeRequirement `json:"attributes,omitempty"`
	Completion       *Completion                    `json:"completion,omitempty"`
}

// Completion describes a finished terminal action.
type Completion struct {
	Action string `json:"action"`

	// RequirePasswordChange is set after an interactive reset hand-off. The caller must route
	// the user to its change-password flow and call [Engine.PasswordChanged] afterwards.
	RequirePasswordChange bool `json:"require_password_change,omitempty"`

	// Delivered is the masked destination list a generated password went to.
	Delivered string `json:"delivered,omitempty"`

	// AuthRecord is a signed record of the recovered authentication, when signing is configured.
	AuthRecord string `json:"-"`

	Identity session.Identity `json:"-"`
}
