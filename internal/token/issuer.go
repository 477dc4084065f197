// Package token signs and verifies the session tokens handed to clients.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalid is returned for malformed, tampered or foreign tokens.
	ErrInvalid = errors.New("token: invalid")
	// ErrExpired is returned for well-formed tokens past their expiry.
	ErrExpired = errors.New("token: expired")
)

// MinKeyLength is the shortest accepted HMAC key in bytes.
const MinKeyLength = 32

// Claims are the session attributes carried inside a token.
type Claims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issued describes a freshly signed token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer signs HS256 tokens for one issuer name.
type Issuer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewIssuer validates the signing key and returns an Issuer.
func NewIssuer(secret, issuer string, now func() time.Time) (*Issuer, error) {
	if len(secret) < MinKeyLength {
		return nil, fmt.Errorf("token: signing key must be at least %d bytes", MinKeyLength)
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "rental-broker"
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{key: []byte(secret), issuer: issuer, now: now}, nil
}

// Issue signs a token for userID bound to sessionID.
func (i *Issuer) Issue(userID, sessionID, role string, ttl time.Duration) (Issued, error) {
	if i == nil {
		return Issued{}, fmt.Errorf("token issuer is nil")
	}
	if userID == "" || sessionID == "" {
		return Issued{}, fmt.Errorf("token: user and session ids are required")
	}
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign token: %w", err)
	}
	return Issued{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, issuer and expiry and returns the embedded claims.
func (i *Issuer) Verify(raw string) (Claims, error) {
	if i == nil {
		return Claims{}, fmt.Errorf("token issuer is nil")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalid
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return Claims{}, ErrInvalid
	}
	return claims, nil
}
