package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestAuthRecordRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{RecordTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "recovery"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	record, err := m.CreateAuthRecord("guid-1", "uid=alice", "default", "password")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	claims, err := m.ParseAuthRecord(record)
	if err != nil {
		t.Fatalf("parse record: %v", err)
	}
	if claims.GUID != "guid-1" || claims.UserDN != "uid=alice" || claims.Mode != "password" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestAuthRecordRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{RecordTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AuthRecordClaims{GUID: "g", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAuthRecord(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestAuthRecordExpiryAndIssuer(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{RecordTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "recovery"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	expired := AuthRecordClaims{GUID: "g", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "recovery",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-3 * time.Minute)),
	}}
	signed, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, expired).SignedString(priv)
	if _, err := m.ParseAuthRecord(signed); err == nil {
		t.Fatal("expected expired record to fail")
	}

	otherIssuer := AuthRecordClaims{GUID: "g", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "elsewhere",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	signed, _ = gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, otherIssuer).SignedString(priv)
	if _, err := m.ParseAuthRecord(signed); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
}

func TestAuthRecordUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	m, err := NewManager(Config{
		RecordTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AuthRecordClaims{GUID: "g", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, _ := tok.SignedString(priv1)
	if _, err := m.ParseAuthRecord(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	good, err := m.CreateAuthRecord("g", "", "", "")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := m.ParseAuthRecord(good); err != nil {
		t.Fatalf("expected known kid record to pass: %v", err)
	}
}

func TestAuthRecordMissingGUIDRejected(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewManager(Config{RecordTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: key})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.CreateAuthRecord(" ", "", "", ""); err == nil {
		t.Fatal("expected empty guid to be rejected")
	}

	claims := AuthRecordClaims{RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(key)
	if _, err := m.ParseAuthRecord(token); err == nil {
		t.Fatal("expected record without guid to fail")
	}
}
