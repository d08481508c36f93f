package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// newTestTokenService uses a fixed, known secret so tests are deterministic.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// signRaw signs arbitrary claims with ts's secret, bypassing Generate's rules.
func signRaw(t *testing.T, ts *TokenService, c claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(ts.secret)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

// =========================================================================
// TOKEN SERVICE CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short")
	if err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ValidSecret(t *testing.T) {
	_, err := NewTokenService("this-is-16-chars")
	if err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
}

// =========================================================================
// GENERATE TESTS
// =========================================================================

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("alice", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if n := strings.Count(token, "."); n != 2 {
		t.Errorf("token has %d dots, want 2 (header.payload.signature)", n)
	}
}

func TestGenerate_RequiresSubject(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Generate("", time.Hour); err == nil {
		t.Fatal("Generate() should reject an empty subject")
	}
}

func TestGenerate_DefaultTTL(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("alice", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	ttl := c.ExpiresAt.Sub(c.IssuedAt.Time)
	if ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultTokenTTL)
	}
	if c.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", c.Issuer, Issuer)
	}
}

// =========================================================================
// VALIDATE TESTS
// =========================================================================

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("alice", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != "alice" {
		t.Errorf("Validate() subject = %q, want %q", got, "alice")
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)
	now := time.Now()

	token := signRaw(t, ts, claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	}})

	_, err := ts.Validate(token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("Validate() error = %v, want expiry error", err)
	}
}

func TestValidate_WrongIssuer(t *testing.T) {
	ts := newTestTokenService(t)

	token := signRaw(t, ts, claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})

	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should reject tokens from another issuer")
	}
}

func TestValidate_MissingExpiry(t *testing.T) {
	ts := newTestTokenService(t)

	token := signRaw(t, ts, claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "alice",
		Issuer:  Issuer,
	}})

	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should reject tokens without exp")
	}
}

func TestValidate_TamperedToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Generate("alice", time.Hour)
	tampered := token[:len(token)-3] + "xxx"

	if _, err := ts.Validate(tampered); err == nil {
		t.Fatal("Validate() should return an error for a tampered token")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService("correct-secret-32-chars-long!!!!")
	ts2, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!")

	token, _ := ts1.Generate("alice", time.Hour)

	if _, err := ts2.Validate(token); err == nil {
		t.Fatal("Validate() should fail when using a different secret")
	}
}

func TestValidate_Garbage(t *testing.T) {
	ts := newTestTokenService(t)

	for _, in := range []string{"", "not.a.jwt.token"} {
		if _, err := ts.Validate(in); err == nil {
			t.Errorf("Validate(%q) should fail", in)
		}
	}
}
