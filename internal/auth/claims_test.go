package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseToken(t *testing.T) {
	token, issued, err := GenerateToken("cli", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "cli" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "cli")
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
	}
	if claims.ID == "" || claims.ID != issued.ID {
		t.Errorf("ID = %q, want %q", claims.ID, issued.ID)
	}

	expected := time.Now().Add(time.Hour)
	if diff := claims.ExpiresAt.Time.Sub(expected); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry off by %v", diff)
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	_, claims, err := GenerateToken("cli", testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	expected := time.Now().Add(DefaultTTL)
	if diff := claims.ExpiresAt.Time.Sub(expected); diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL off by %v", diff)
	}
}

func TestGenerateToken_Errors(t *testing.T) {
	if _, _, err := GenerateToken("cli", "", time.Hour); !errors.Is(err, ErrSecretRequired) {
		t.Errorf("GenerateToken(no secret) error = %v, want ErrSecretRequired", err)
	}
	if _, _, err := GenerateToken("", testSecret, time.Hour); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("GenerateToken(no subject) error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, _, err := GenerateToken("cli", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	expired := signClaims(t, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "cli",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}, jwt.SigningMethodHS256)
	foreign := signClaims(t, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "cli",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)
	noExpiry := signClaims(t, jwt.RegisteredClaims{
		Issuer:  Issuer,
		Subject: "cli",
	}, jwt.SigningMethodHS256)
	hs512 := signClaims(t, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "cli",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS512)

	tests := []struct {
		name   string
		token  string
		secret string
		want   error
	}{
		{"wrong secret", valid, "another-secret-another-secret-0123", ErrTokenInvalid},
		{"empty", "", testSecret, ErrTokenInvalid},
		{"garbage", "not-a-valid-jwt", testSecret, ErrTokenInvalid},
		{"two segments", "abc.def", testSecret, ErrTokenInvalid},
		{"expired", expired, testSecret, ErrTokenExpired},
		{"foreign issuer", foreign, testSecret, ErrTokenInvalid},
		{"no expiry", noExpiry, testSecret, ErrTokenInvalid},
		{"other algorithm", hs512, testSecret, ErrTokenInvalid},
		{"no secret", valid, "", ErrSecretRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func signClaims(t *testing.T, c jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, Claims{RegisteredClaims: c}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}
