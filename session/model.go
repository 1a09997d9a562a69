package session

import "time"

// Identity is a concrete directory user resolved by search or token redemption.
type Identity struct {
	UserDN    string `json:"user_dn"`
	GUID      string `json:"guid"`
	ProfileID string `json:"profile_id"`
}

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return i.UserDN == "" && i.GUID == ""
}

// Same reports whether both identities name the same durable user.
func (i Identity) Same(other Identity) bool {
	if i.GUID != "" && other.GUID != "" {
		return i.GUID == other.GUID
	}
	return i.UserDN != "" && i.UserDN == other.UserDN
}

// AttributeRequirement is one directory attribute the user may be asked to confirm.
type AttributeRequirement struct {
	Name     string `json:"name" toml:"name"`
	Label    string `json:"label" toml:"label"`
	Required bool   `json:"required" toml:"required"`
	Type     string `json:"type,omitempty" toml:"type"`
}

// Challenge is one presentable question of a challenge set.
type Challenge struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Required  bool   `json:"required"`
	MinLength int    `json:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

// ChallengeSet is what the user is shown for CHALLENGE_RESPONSES.
type ChallengeSet struct {
	ID                string      `json:"id,omitempty"`
	Locale            string      `json:"locale,omitempty"`
	Challenges        []Challenge `json:"challenges"`
	MinRandomRequired int         `json:"min_random_required"`
}

// RequiredCount returns the number of mandatory challenges.
func (c ChallengeSet) RequiredCount() int {
	n := 0
	for _, ch := range c.Challenges {
		if ch.Required {
			n++
		}
	}
	return n
}

// RandomCount returns the number of optional (random) challenges.
func (c ChallengeSet) RandomCount() int {
	return len(c.Challenges) - c.RequiredCount()
}

// ChallengeContext holds the challenge set currently displayed to the user.
type ChallengeContext struct {
	ChallengeSet ChallengeSet `json:"challenge_set"`
}

// Destination is one resolved delivery address.
type Destination struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
}

// TokenPayload is the data bound to an issued out-of-band token.
type TokenPayload struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Data         map[string]string `json:"data,omitempty"`
	Identity     Identity          `json:"identity"`
	Destinations []Destination     `json:"destinations"`
	IssuedAt     time.Time         `json:"issued_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// EmailItem is a rendered message for the email channel.
type EmailItem struct {
	To      string
	From    string
	Subject string
	Body    string
}

// Progress tracks which verification methods a session has satisfied.
type Progress struct {
	Satisfied        MethodSet    `json:"satisfied"`
	InProgress       Method       `json:"in_progress"`
	TokenChannel     Channel      `json:"token_channel"`
	TokenIssued      bool         `json:"token_issued"`
	TokenDestination string       `json:"token_destination,omitempty"`
	ActionChoice     ActionChoice `json:"action_choice"`
	AllPassed        bool         `json:"all_passed"`
}

// Session is one in-progress recovery attempt.
type Session struct {
	ID               string                 `json:"id"`
	IdentifiedUser   *Identity              `json:"identified_user,omitempty"`
	StartLocale      string                 `json:"start_locale,omitempty"`
	CurrentLocale    string                 `json:"current_locale,omitempty"`
	Flags            Flags                  `json:"flags"`
	Progress         Progress               `json:"progress"`
	ChallengeContext *ChallengeContext      `json:"challenge_context,omitempty"`
	AttributeForm    []AttributeRequirement `json:"attribute_form,omitempty"`
	Revision         uint64                 `json:"revision"`
	CreatedAt        int64                  `json:"created_at"`
	UpdatedAt        int64                  `json:"updated_at"`
}

// New returns an empty session for the given id and locale.
func New(id, locale string) *Session {
	now := time.Now().Unix()
	return &Session{
		ID:            id,
		StartLocale:   locale,
		CurrentLocale: locale,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Identified reports whether a concrete user has been resolved.
func (s *Session) Identified() bool {
	return s != nil && s.IdentifiedUser != nil && !s.IdentifiedUser.IsZero()
}

// IsSatisfied reports whether m has passed in this session.
func (s *Session) IsSatisfied(m Method) bool {
	return s != nil && s.Progress.Satisfied.Contains(m)
}

// MarkSatisfied records m as passed. Marks are never removed except by Clear or ResetProgress.
func (s *Session) MarkSatisfied(m Method) {
	s.Progress.Satisfied = s.Progress.Satisfied.With(m)
}

// ResetProgress drops progress, challenge context, attribute form and token sub-state while
// keeping the identified user and locales.
func (s *Session) ResetProgress() {
	s.Progress = Progress{}
	s.ChallengeContext = nil
	s.AttributeForm = nil
}

// Clear wipes everything except the session id, start locale and revision.
func (s *Session) Clear() {
	if s == nil {
		return
	}
	s.IdentifiedUser = nil
	s.Flags = Flags{}
	s.CurrentLocale = s.StartLocale
	s.ResetProgress()
}
