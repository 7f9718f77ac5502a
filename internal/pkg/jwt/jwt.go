package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims identifies the tenant behind a request. Token issuance lives in the
// platform's auth service; this package only verifies and extracts.
type Claims struct {
	CreatorID string `json:"creator_id"`
	SessionID string `json:"session_id,omitempty"`
	jwtlib.RegisteredClaims
}

func GenerateToken(creatorID, sessionID string, secret []byte, ttl time.Duration) (string, error) {
	claims := Claims{
		CreatorID: creatorID,
		SessionID: sessionID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenString, &Claims{}, func(token *jwtlib.Token) (interface{}, error) {
		if token.Method.Alg() != jwtlib.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.CreatorID == "" {
		return nil, errors.New("token missing creator_id")
	}
	return claims, nil
}
