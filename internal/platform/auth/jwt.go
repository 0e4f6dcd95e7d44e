package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"orgdesk/internal/platform/config"
)

const issuer = "orgdesk"

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims identify the actor. Authorization facts are not carried in the
// token; they are loaded into a user context per request.
type Claims struct {
	UserID         string `json:"uid"`
	OrganizationID string `json:"oid"`
	Email          string `json:"email"`
	Type           string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenService struct {
	config config.JWTConfig
	now    func() time.Time
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{config: cfg, now: time.Now}
}

func (s *TokenService) sign(claims Claims, ttl time.Duration) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) GenerateAccessToken(userID, orgID, email string) (string, error) {
	return s.sign(Claims{UserID: userID, OrganizationID: orgID, Email: email, Type: tokenTypeAccess}, s.config.AccessTokenTTL)
}

func (s *TokenService) GenerateRefreshToken(userID, orgID string) (string, error) {
	return s.sign(Claims{UserID: userID, OrganizationID: orgID, Type: tokenTypeRefresh}, s.config.RefreshTokenTTL)
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// ValidateToken accepts access tokens only.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}

func (s *TokenService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh {
		return nil, errors.New("not a refresh token")
	}
	return claims, nil
}
