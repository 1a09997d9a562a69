package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

type SessionID [16]byte

// DefaultTokenCharset excludes characters that are easy to misread when typed from an email.
const DefaultTokenCharset = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewTokenCode draws length characters uniformly from charset.
func NewTokenCode(length int, charset string) (string, error) {
	if length < 4 || length > 64 {
		return "", errors.New("invalid token code length")
	}
	if charset == "" {
		charset = DefaultTokenCharset
	}
	if len(charset) < 2 {
		return "", errors.New("token charset too small")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(charset[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeTokenCode trims whitespace and folds case when the charset has no lower-case letters.
func NormalizeTokenCode(code, charset string) string {
	code = strings.TrimSpace(code)
	if charset == "" {
		charset = DefaultTokenCharset
	}
	if strings.ToUpper(charset) == charset {
		code = strings.ToUpper(code)
	}
	return strings.ReplaceAll(code, " ", "")
}

func HashTokenKey(key string) [32]byte {
	return sha256.Sum256([]byte(key))
}

// RandomIndex returns a uniform integer in [0, n).
func RandomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("invalid range")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
