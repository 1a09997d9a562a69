package session

import (
	"fmt"
	"strings"
)

// Channel is a delivery channel for tokens and generated passwords.
type Channel uint8

const (
	ChannelNone Channel = iota
	ChannelEmail
	ChannelSMS
)

func (c Channel) String() string {
	switch c {
	case ChannelEmail:
		return "EMAIL"
	case ChannelSMS:
		return "SMS"
	default:
		return "NONE"
	}
}

// ParseChannel accepts "EMAIL" or "SMS" case-insensitively.
func ParseChannel(value string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "EMAIL":
		return ChannelEmail, nil
	case "SMS":
		return ChannelSMS, nil
	}
	return ChannelNone, fmt.Errorf("unknown channel %q", value)
}

func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(text []byte) error {
	if v := strings.ToUpper(strings.TrimSpace(string(text))); v == "" || v == "NONE" {
		*c = ChannelNone
		return nil
	}
	parsed, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ChannelPolicy selects destinations for token and new-password delivery.
type ChannelPolicy uint8

const (
	PolicyNone ChannelPolicy = iota
	PolicyEmailOnly
	PolicySMSOnly
	PolicyEmailFirst
	PolicySMSFirst
	PolicyBoth
	PolicyChoice
)

var channelPolicyNames = [...]string{
	PolicyNone:       "NONE",
	PolicyEmailOnly:  "EMAIL_ONLY",
	PolicySMSOnly:    "SMS_ONLY",
	PolicyEmailFirst: "EMAIL_FIRST",
	PolicySMSFirst:   "SMS_FIRST",
	PolicyBoth:       "BOTH",
	PolicyChoice:     "CHOICE",
}

func (p ChannelPolicy) String() string {
	if int(p) < len(channelPolicyNames) {
		return channelPolicyNames[p]
	}
	return "NONE"
}

// ParseChannelPolicy accepts the underscore form and the legacy compact form ("EMAILFIRST").
func ParseChannelPolicy(value string) (ChannelPolicy, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	for i, name := range channelPolicyNames {
		if v == name || v == strings.ReplaceAll(name, "_", "") {
			return ChannelPolicy(i), nil
		}
	}
	return PolicyNone, fmt.Errorf("unknown channel policy %q", value)
}

func (p ChannelPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ChannelPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TerminalAction is what happens once every verification requirement is met.
type TerminalAction uint8

const (
	TerminalInteractiveReset TerminalAction = iota
	TerminalSendNewPassword
	TerminalSendNewPasswordAndExpire
)

func (a TerminalAction) String() string {
	switch a {
	case TerminalSendNewPassword:
		return "SEND_NEW_PASSWORD"
	case TerminalSendNewPasswordAndExpire:
		return "SEND_NEW_PASSWORD_AND_EXPIRE"
	default:
		return "INTERACTIVE_RESET"
	}
}

// ParseTerminalAction parses the upper-case action name.
func ParseTerminalAction(value string) (TerminalAction, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "INTERACTIVE_RESET":
		return TerminalInteractiveReset, nil
	case "SEND_NEW_PASSWORD":
		return TerminalSendNewPassword, nil
	case "SEND_NEW_PASSWORD_AND_EXPIRE":
		return TerminalSendNewPasswordAndExpire, nil
	}
	return TerminalInteractiveReset, fmt.Errorf("unknown terminal action %q", value)
}

func (a TerminalAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *TerminalAction) UnmarshalText(text []byte) error {
	parsed, err := ParseTerminalAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SendsNewPassword reports whether the action delivers a generated password.
func (a TerminalAction) SendsNewPassword() bool {
	return a == TerminalSendNewPassword || a == TerminalSendNewPasswordAndExpire
}

// ActionChoice is the user's pick between unlocking and resetting.
type ActionChoice uint8

const (
	ActionChoiceNone ActionChoice = iota
	ActionChoiceUnlock
	ActionChoiceResetPassword
)

func (c ActionChoice) String() string {
	switch c {
	case ActionChoiceUnlock:
		return "unlock"
	case ActionChoiceResetPassword:
		return "resetPassword"
	default:
		return "none"
	}
}

// ParseActionChoice accepts "unlock" and "resetPassword" (or "reset").
func ParseActionChoice(value string) (ActionChoice, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "unlock":
		return ActionChoiceUnlock, nil
	case "resetpassword", "reset", "reset_password":
		return ActionChoiceResetPassword, nil
	}
	return ActionChoiceNone, fmt.Errorf("unknown action choice %q", value)
}

func (c ActionChoice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ActionChoice) UnmarshalText(text []byte) error {
	if v := strings.ToLower(strings.TrimSpace(string(text))); v == "" || v == "none" {
		*c = ActionChoiceNone
		return nil
	}
	parsed, err := ParseActionChoice(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Flags is the resolved recovery policy for one session.
type Flags struct {
	ProfileID           string         `json:"profile_id"`
	RequiredMethods     MethodSet      `json:"required_methods"`
	OptionalMethods     MethodSet      `json:"optional_methods"`
	MinOptionalRequired int            `json:"min_optional_required"`
	TokenChannelPolicy  ChannelPolicy  `json:"token_channel_policy"`
	AllowWhenLocked     bool           `json:"allow_when_locked"`
	TerminalAction      TerminalAction `json:"terminal_action"`
	AllowUnlockChoice   bool           `json:"allow_unlock_choice"`
}

// Uses reports whether m is required or optional under these flags.
func (f Flags) Uses(m Method) bool {
	return f.RequiredMethods.Contains(m) || f.OptionalMethods.Contains(m)
}
