package auth

import (
	"testing"
	"time"

	"orgdesk/internal/platform/config"
)

func newService() *TokenService {
	return NewTokenService(config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
}

func TestAccessTokenRoundTrip(t *testing.T) {
	s := newService()
	token, err := s.GenerateAccessToken("u1", "o1", "a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "u1" || claims.OrganizationID != "o1" || claims.Email != "a@x.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if _, err := s.ValidateRefreshToken(token); err == nil {
		t.Error("access token accepted as refresh token")
	}
}

func TestRefreshTokenNotAccepted(t *testing.T) {
	s := newService()
	token, _ := s.GenerateRefreshToken("u1", "o1")
	if _, err := s.ValidateToken(token); err == nil {
		t.Error("refresh token accepted as access token")
	}
	claims, err := s.ValidateRefreshToken(token)
	if err != nil || claims.UserID != "u1" {
		t.Errorf("ValidateRefreshToken: %+v, %v", claims, err)
	}
}

func TestExpiredToken(t *testing.T) {
	s := newService()
	s.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	token, _ := s.GenerateAccessToken("u1", "o1", "a@x.com")
	s.now = time.Now
	if _, err := s.ValidateToken(token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestWrongSecret(t *testing.T) {
	token, _ := newService().GenerateAccessToken("u1", "o1", "a@x.com")
	other := NewTokenService(config.JWTConfig{Secret: "other", AccessTokenTTL: time.Minute})
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token signed with another secret accepted")
	}
}
