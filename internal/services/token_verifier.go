package services

import (
	"fmt"
	"log"

	"github.com/dgrijalva/jwt-go"
)

// TokenVerifier validates identity tokens issued by the external identity
// provider. Issuance (signup, login, session refresh) is entirely the
// provider's job; this service only verifies the shared-secret HS256
// signature and extracts the buyer claims.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a new TokenVerifier.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
	}
}

// ValidateToken parses and validates an identity token, returning the claims
// if valid.
func (v *TokenVerifier) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the alg is what we expect:
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		log.Printf("Token validation error: %v", err)
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
