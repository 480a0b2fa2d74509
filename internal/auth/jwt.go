// Package auth implements spec §6.1/§6.2 bearer-token authentication: HMAC-
// SHA256 JWTs carrying {sub, role, exp}, issued at login/registration and
// verified on every API call and Subscription Gateway connection (either as
// an Authorization: Bearer header or, for the WebSocket upgrade where custom
// headers aren't available to browser clients, a `token` query parameter).
//
// Grounded on _examples/other_examples's iannil-open-uav-telemetry-bridge
// go.mod, the only repo in the pack depending on github.com/golang-jwt/jwt/v5
// (the teacher has no auth layer of its own).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/safehorizon/pipeline/internal/models"
)

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	ErrWrongRole    = errors.New("auth: caller's role is not permitted")
)

// Claims is the spec §6.1 token payload.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

type JWT struct {
	secret []byte
	expiry time.Duration
}

func New(secret string, expiry time.Duration) *JWT {
	return &JWT{secret: []byte(secret), expiry: expiry}
}

// Issue mints a bearer token for the given subject id and role.
func (j *JWT) Issue(subject, role string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(j.expiry)
	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a bearer token string, returning its claims.
func (j *JWT) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireRole checks that claims carry one of the allowed roles (spec §6.2
// role gating: tourist endpoints reject authority tokens and vice versa,
// admin is permitted everywhere).
func RequireRole(claims *Claims, allowed ...string) error {
	if claims.Role == models.RoleAdmin {
		return nil
	}
	for _, r := range allowed {
		if claims.Role == r {
			return nil
		}
	}
	return ErrWrongRole
}
