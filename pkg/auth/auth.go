// Package auth provides bcrypt secret hashing and JWT generation/parsing for
// API clients. It is a leaf package with no domain dependencies, used by the
// token handler and the API middleware.
package auth

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// BCryptCost is the work factor for bcrypt client-secret hashes.
const BCryptCost = 12

// DefaultTokenExpiry is the default token lifetime in hours when
// ARCHIVA_TOKEN_EXPIRY is not set.
const DefaultTokenExpiry = 24

const (
	envJWTSecret   = "ARCHIVA_JWT_SECRET"
	envTokenExpiry = "ARCHIVA_TOKEN_EXPIRY"
)

// getJWTSecret reads the signing secret from the environment. Panics if it is
// not set so the service cannot start with auth silently disabled.
func getJWTSecret() []byte {
	secret := os.Getenv(envJWTSecret)
	if secret == "" {
		panic(envJWTSecret + " environment variable not set — cannot initialize auth")
	}
	return []byte(secret)
}

// parseTokenExpiry parses an expiry string (hours) into a Duration.
// Returns DefaultTokenExpiry for empty or invalid input.
func parseTokenExpiry(expiryStr string) time.Duration {
	if expiryStr == "" {
		return time.Duration(DefaultTokenExpiry) * time.Hour
	}
	hours, err := strconv.Atoi(expiryStr)
	if err != nil {
		return time.Duration(DefaultTokenExpiry) * time.Hour
	}
	return time.Duration(hours) * time.Hour
}

func getTokenExpiry() time.Duration {
	return parseTokenExpiry(os.Getenv(envTokenExpiry))
}

// HashSecret hashes a plaintext client secret using bcrypt.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), BCryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret verifies a plaintext client secret against a bcrypt hash.
// Returns false (not an error) for invalid hashes so responses never leak
// hash format details.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Claims represents the JWT claims for an Archiva API client.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a signed HS256 token for the given client.
func GenerateJWT(clientID string) (string, error) {
	now := time.Now()

	claims := &Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(getTokenExpiry())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(getJWTSecret())
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// ParseJWT validates a token and extracts its claims. Returns an error for
// invalid, expired or malformed tokens.
func ParseJWT(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject anything but HMAC to prevent algorithm substitution.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return getJWTSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid JWT claims or signature")
	}
	return claims, nil
}
