package recovery

import (
	"fmt"
	"sort"
	"time"

	"github.com/pwm-project/pwm-sub000/session"
)

// LintSeverity grades a configuration warning.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

// LintWarning is one configuration smell that Validate accepts.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// Lint reports configurations that validate but are unlikely to be intended.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	ids := make([]string, 0, len(c.Profiles))
	for id := range c.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := c.Profiles[id]
		if p.MinOptionalRequired > len(p.OptionalMethods) {
			add("quorum_unreachable", LintHigh,
				"profile %q requires %d optional methods but only %d are configured", id, p.MinOptionalRequired, len(p.OptionalMethods))
		}
		if len(p.OptionalMethods) > 0 && p.MinOptionalRequired == 0 {
			add("optional_methods_unused", LintInfo, "profile %q lists optional methods but requires none", id)
		}
		if len(p.RequiredMethods) == 1 && p.RequiredMethods.Contains(session.MethodAttributes) && p.MinOptionalRequired == 0 {
			add("attributes_only", LintWarn, "profile %q verifies users by directory attributes alone", id)
		}
		if p.AllowWhenLocked {
			add("allow_when_locked", LintWarn, "profile %q lets locked accounts recover", id)
		}
		if p.TokenChannelPolicy == session.PolicyNone && (p.RequiredMethods.Contains(session.MethodToken) || p.OptionalMethods.Contains(session.MethodToken)) {
			add("token_without_channel", LintHigh, "profile %q uses TOKEN with channel policy NONE", id)
		}
	}

	if !c.Intruder.Enabled {
		add("intruder_disabled", LintHigh, "intruder tracking is disabled")
	}
	if c.Token.TTL > time.Hour {
		add("token_ttl_long", LintWarn, "token TTL %s exceeds one hour", c.Token.TTL)
	}
	if c.Token.CodeLength < 8 {
		add("token_code_short", LintWarn, "token codes shorter than 8 characters")
	}
	if c.Session.TTL > 2*time.Hour {
		add("session_ttl_long", LintInfo, "recovery sessions live longer than two hours")
	}
	return ws
}
