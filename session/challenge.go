package session

import "context"

// ChallengePolicy is the configured challenge-set shape a stored response set must meet.
type ChallengePolicy struct {
	MinRequired int `json:"min_required" toml:"min_required"`
	MinRandom   int `json:"min_random" toml:"min_random"`
}

// ResponseSet is a user's stored challenge answers as exposed by the directory.
type ResponseSet interface {
	// ChallengeSet returns the presentable questions.
	ChallengeSet() ChallengeSet
	// MeetsPolicy reports whether the stored set still satisfies the configured shape.
	MeetsPolicy(policy ChallengePolicy) bool
	// Test compares answers keyed by challenge id. On a failed compare an implementation
	// may return a regenerated challenge set that must be shown next.
	Test(ctx context.Context, answers map[string]string) (bool, *ChallengeSet, error)
}
