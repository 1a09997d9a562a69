package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	sessionFormatVersionCurrent = 1
)

// ErrSessionCorrupt is returned when a stored blob cannot be decoded.
var ErrSessionCorrupt = errors.New("recovery session corrupt")

// Encode serializes s as a version byte followed by its JSON body.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, sessionFormatVersionCurrent)
	return append(out, body...), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Session, error) {
	if len(data) < 2 {
		return nil, ErrSessionCorrupt
	}
	if data[0] != sessionFormatVersionCurrent {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSessionCorrupt, data[0])
	}
	var s Session
	if err := json.Unmarshal(data[1:], &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return &s, nil
}
