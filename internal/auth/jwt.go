package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identifies the caller acting on a payment. The actor id is recorded
// on every lifecycle event the caller triggers.
type Claims struct {
	ActorID uuid.UUID
}

type tokenClaims struct {
	jwt.RegisteredClaims
	ActorID string `json:"actor_id"`
}

// GenerateToken mints an HS256 bearer token for the given actor. The service
// has no token-issuance endpoint; tokens are minted out-of-band by operators
// or an upstream identity service sharing the secret.
func GenerateToken(actorID uuid.UUID, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ActorID: actorID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}

	actorID, err := uuid.Parse(tc.ActorID)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid actor_id in token: %w", err)
	}

	return &Claims{ActorID: actorID}, nil
}
