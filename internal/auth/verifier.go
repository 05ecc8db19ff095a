package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator verifies RS256 bearer tokens issued by the identity provider.
type JWTValidator struct {
	PublicKey *rsa.PublicKey
	Issuer    string
	Leeway    time.Duration
}

// LoadJWTValidator reads a PEM encoded RSA public key.
func LoadJWTValidator(publicKeyFile, issuer string) (*JWTValidator, error) {
	raw, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return &JWTValidator{PublicKey: key, Issuer: issuer, Leeway: 30 * time.Second}, nil
}

func (v *JWTValidator) Validate(tokenString string) (*AccessTokenClaims, error) {
	if v.PublicKey == nil {
		return nil, errors.New("missing public key")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	claims := &AccessTokenClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.PublicKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
