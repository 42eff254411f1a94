// ABOUTME: JWT verification and minting for OAuth exchange tokens
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenClaims is the identity carried inside an exchange token.
type TokenClaims struct {
	CallerID   string
	Scope      string
	ClientName string
}

// TokenVerifier defines the interface for exchange token verification.
type TokenVerifier interface {
	Verify(tokenString string) (*TokenClaims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the caller identity.
func (v *JWTVerifier) Verify(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	out := &TokenClaims{CallerID: sub}
	if scope, ok := claims["scope"].(string); ok {
		out.Scope = scope
	}
	if clientName, ok := claims["client_name"].(string); ok {
		out.ClientName = clientName
	}

	return out, nil
}

// Generate creates a new exchange token for the given identity with expiration.
func (v *JWTVerifier) Generate(callerID, scope, clientName string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   callerID,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}
	if clientName != "" {
		claims["client_name"] = clientName
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
