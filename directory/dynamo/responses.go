package dynamo

import (
	"context"
	"strings"

	"github.com/pwm-project/pwm-sub000/password"
	"github.com/pwm-project/pwm-sub000/session"
)

// ResponseSet tests answers against argon2id answer hashes.
type ResponseSet struct {
	stored StoredResponses
	locale string
	hasher *password.Argon2
}

var _ session.ResponseSet = (*ResponseSet)(nil)

func (r *ResponseSet) ChallengeSet() session.ChallengeSet {
	set := session.ChallengeSet{
		Locale:            r.locale,
		MinRandomRequired: r.stored.MinRandomRequired,
		Challenges:        make([]session.Challenge, 0, len(r.stored.Challenges)),
	}
	if set.Locale == "" {
		set.Locale = r.stored.Locale
	}
	for _, c := range r.stored.Challenges {
		set.Challenges = append(set.Challenges, session.Challenge{ID: c.ID, Text: c.Text, Required: c.Required})
	}
	return set
}

// MeetsPolicy reports whether the stored set still has enough required and random
// challenges for policy.
func (r *ResponseSet) MeetsPolicy(policy session.ChallengePolicy) bool {
	required, random := 0, 0
	for _, c := range r.stored.Challenges {
		if c.AnswerHash == "" {
			continue
		}
		if c.Required {
			required++
		} else {
			random++
		}
	}
	if required < policy.MinRequired || random < policy.MinRandom {
		return false
	}
	return random >= r.stored.MinRandomRequired
}

// Test passes when every required challenge and at least MinRandomRequired random
// challenges are answered correctly. Any wrong submitted answer fails the whole set.
// The set is never regenerated.
func (r *ResponseSet) Test(ctx context.Context, answers map[string]string) (bool, *session.ChallengeSet, error) {
	randomPassed := 0
	for _, c := range r.stored.Challenges {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}
		answer, submitted := answers[c.ID]
		if !submitted || strings.TrimSpace(answer) == "" {
			if c.Required {
				return false, nil, nil
			}
			continue
		}
		if c.AnswerHash == "" {
			return false, nil, nil
		}
		ok, err := r.hasher.VerifyAnswer(answer, c.AnswerHash)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, nil, nil
		}
		if !c.Required {
			randomPassed++
		}
	}
	return randomPassed >= r.stored.MinRandomRequired, nil, nil
}
