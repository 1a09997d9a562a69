package internal

import (
	"strings"
	"testing"
)

func TestNewTokenCodeUsesCharset(t *testing.T) {
	code, err := NewTokenCode(12, "AB")
	if err != nil {
		t.Fatalf("NewTokenCode failed: %v", err)
	}
	if len(code) != 12 {
		t.Fatalf("expected 12 chars, got %d", len(code))
	}
	if strings.Trim(code, "AB") != "" {
		t.Fatalf("unexpected characters in %q", code)
	}
}

func TestNewTokenCodeRejectsBadLength(t *testing.T) {
	if _, err := NewTokenCode(2, ""); err == nil {
		t.Fatal("expected error for short code")
	}
}

func TestNormalizeTokenCodeFoldsCase(t *testing.T) {
	if got := NormalizeTokenCode(" ab cd ", DefaultTokenCharset); got != "ABCD" {
		t.Fatalf("expected ABCD, got %q", got)
	}
	if got := NormalizeTokenCode("abcd", "abcd"); got != "abcd" {
		t.Fatalf("expected lower-case preserved, got %q", got)
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID failed: %v", err)
	}
	if parsed != sid {
		t.Fatal("session id round trip mismatch")
	}
}
