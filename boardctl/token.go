package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// mintToken signs an HS256 token carrying the dev identity.
func mintToken(id DevIdentity, now time.Time, ttl time.Duration) (string, error) {
	if id.Secret == "" {
		return "", errors.New("signing secret is required")
	}
	if id.UserID == "" {
		return "", errors.New("user id is required")
	}
	claims := jwt.MapClaims{
		"sub": id.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if id.Name != "" {
		claims["name"] = id.Name
	}
	if id.Email != "" {
		claims["email"] = id.Email
	}
	if id.Audience != "" {
		claims["aud"] = id.Audience
	}
	if id.Issuer != "" {
		claims["iss"] = id.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(id.Secret))
}
