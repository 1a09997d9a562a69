package password

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars   = "23456789"
	defaultSpecs = "!@#$%^&*-_=+?"
)

// Policy describes the shape a generated password must have.
type Policy struct {
	Length       int    `toml:"length"`
	MinLower     int    `toml:"min_lower"`
	MinUpper     int    `toml:"min_upper"`
	MinDigits    int    `toml:"min_digits"`
	MinSpecial   int    `toml:"min_special"`
	SpecialChars string `toml:"special_chars"`
}

// DefaultPolicy is a 16 character password with at least two of each class.
func DefaultPolicy() Policy {
	return Policy{Length: 16, MinLower: 2, MinUpper: 2, MinDigits: 2, MinSpecial: 2, SpecialChars: defaultSpecs}
}

// Validate reports whether the class minimums fit into Length.
func (p Policy) Validate() error {
	if p.Length < minPassBytes {
		return errors.New("generated password length must be >= 10")
	}
	if p.MinLower < 0 || p.MinUpper < 0 || p.MinDigits < 0 || p.MinSpecial < 0 {
		return errors.New("password class minimums must be >= 0")
	}
	if p.MinLower+p.MinUpper+p.MinDigits+p.MinSpecial > p.Length {
		return errors.New("password class minimums exceed length")
	}
	return nil
}

// Generator produces random passwords for a Policy.
type Generator struct {
	policy Policy
}

func NewGenerator(policy Policy) (*Generator, error) {
	if policy.SpecialChars == "" {
		policy.SpecialChars = defaultSpecs
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Generator{policy: policy}, nil
}

// Generate returns a fresh password that satisfies every class minimum.
func (g *Generator) Generate() (string, error) {
	p := g.policy
	out := make([]byte, 0, p.Length)

	classes := []struct {
		chars string
		n     int
	}{
		{lowerChars, p.MinLower},
		{upperChars, p.MinUpper},
		{digitChars, p.MinDigits},
		{p.SpecialChars, p.MinSpecial},
	}
	for _, c := range classes {
		for i := 0; i < c.n; i++ {
			ch, err := pick(c.chars)
			if err != nil {
				return "", err
			}
			out = append(out, ch)
		}
	}

	all := lowerChars + upperChars + digitChars
	if p.MinSpecial > 0 {
		all += p.SpecialChars
	}
	for len(out) < p.Length {
		ch, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// Satisfies reports whether pw meets the policy. Used by tests and directory adapters that
// validate administrator-supplied passwords.
func (p Policy) Satisfies(pw string) bool {
	if len(pw) < p.Length {
		return false
	}
	specials := p.SpecialChars
	if specials == "" {
		specials = defaultSpecs
	}
	var lower, upper, digit, special int
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower++
		case r >= 'A' && r <= 'Z':
			upper++
		case r >= '0' && r <= '9':
			digit++
		case strings.ContainsRune(specials, r):
			special++
		}
	}
	return lower >= p.MinLower && upper >= p.MinUpper && digit >= p.MinDigits && special >= p.MinSpecial
}

func pick(chars string) (byte, error) {
	i, err := randInt(len(chars))
	if err != nil {
		return 0, err
	}
	return chars[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
