package utils

import (
	"errors"
	"time"

	"cadence/config"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the caller and the tenant every request is scoped to.
// Tokens are issued by the auth service; this service only verifies them.
type Claims struct {
	UserID   uint `json:"user_id"`
	TenantID uint `json:"tenant_id"`
	jwt.RegisteredClaims
}

// GenerateJWTToken signs an access token. Used by tooling and tests.
func GenerateJWTToken(userID, tenantID uint, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:   userID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.TenantID == 0 {
			return nil, errors.New("token has no tenant")
		}
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
