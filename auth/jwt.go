package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// The sync engine does not issue identities; it only validates tokens the
// collaborator layer hands to clients. With no secret configured the REST
// surface runs open, which is the expected mode for local development.
var jwtSecret []byte

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Init reads the signing secret from the environment.
func Init() {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		logrus.Warn("AUTH_JWT_SECRET not set, REST API authentication disabled")
		return
	}
	jwtSecret = []byte(secret)
}

// Enabled reports whether token validation is configured.
func Enabled() bool {
	return len(jwtSecret) > 0
}

// IssueToken signs a token for a user, used by tests and by operators
// provisioning clients out of band.
func IssueToken(userID string, ttl time.Duration) (string, error) {
	if !Enabled() {
		return "", fmt.Errorf("jwt secret not configured")
	}
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseJWT validates a token and returns its claims.
func ParseJWT(tokenString string) (*Claims, error) {
	if !Enabled() {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
