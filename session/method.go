package session

import (
	"fmt"
	"strings"
)

// Method identifies one verification mechanism.
type Method uint8

const (
	// MethodNone is the zero value and never satisfies anything.
	MethodNone Method = iota
	// MethodPreviousAuth is satisfied by a signed authentication record for the same user.
	MethodPreviousAuth
	// MethodAttributes compares submitted values against directory attributes.
	MethodAttributes
	// MethodChallengeResponses tests answers against the stored response set.
	MethodChallengeResponses
	// MethodOTP validates a one-time passcode against the user's OTP record.
	MethodOTP
	// MethodToken issues an out-of-band code and redeems it.
	MethodToken
)

var methodNames = map[Method]string{
	MethodPreviousAuth:       "PREVIOUS_AUTH",
	MethodAttributes:         "ATTRIBUTES",
	MethodChallengeResponses: "CHALLENGE_RESPONSES",
	MethodOTP:                "OTP",
	MethodToken:              "TOKEN",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "NONE"
}

// ParseMethod accepts the upper-case tag form ("CHALLENGE_RESPONSES") case-insensitively.
func ParseMethod(value string) (Method, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	for m, name := range methodNames {
		if name == v {
			return m, nil
		}
	}
	return MethodNone, fmt.Errorf("unknown verification method %q", value)
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	if v := strings.ToUpper(strings.TrimSpace(string(text))); v == "" || v == "NONE" {
		*m = MethodNone
		return nil
	}
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MethodSet is an ordered set of methods. Order is the configured order and drives which
// required method is presented first.
type MethodSet []Method

// NewMethodSet builds a set preserving first-seen order and dropping duplicates and MethodNone.
func NewMethodSet(methods ...Method) MethodSet {
	out := make(MethodSet, 0, len(methods))
	for _, m := range methods {
		if m == MethodNone || out.Contains(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s MethodSet) Contains(m Method) bool {
	for _, v := range s {
		if v == m {
			return true
		}
	}
	return false
}

// With returns s plus m appended when it is not already present.
func (s MethodSet) With(m Method) MethodSet {
	if m == MethodNone || s.Contains(m) {
		return s
	}
	out := make(MethodSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, m)
}

// Minus returns the members of s not present in other, in s order.
func (s MethodSet) Minus(other MethodSet) MethodSet {
	out := make(MethodSet, 0, len(s))
	for _, m := range s {
		if !other.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// CountIn returns |s ∩ other|.
func (s MethodSet) CountIn(other MethodSet) int {
	n := 0
	for _, m := range s {
		if other.Contains(m) {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (s MethodSet) Clone() MethodSet {
	if s == nil {
		return nil
	}
	out := make(MethodSet, len(s))
	copy(out, s)
	return out
}
