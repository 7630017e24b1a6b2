// Package auth issues and checks the HS256 tokens carried by internal and
// admin callers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/certkeeper/internal/common"
)

// Issuer is stamped into every token and required on parse.
const Issuer = "certkeeper"

// Claims are the registered claims plus the admin role flag.
type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"adm,omitempty"`
}

// now is replaced in tests.
var now = time.Now

// GenerateToken signs a token for subject valid for validity.
func GenerateToken(subject string, secretKey []byte, validity time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	if len(secretKey) == 0 {
		return "", errors.New("secret key is empty")
	}
	issued := now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(validity)),
		},
		Admin: true,
	})
	return token.SignedString(secretKey)
}

// SubjectFromToken validates tokenString and returns its subject. Any
// failure wraps common.ErrInvalidToken.
func SubjectFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if !token.Valid || !claims.Admin || claims.Subject == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Subject, nil
}
