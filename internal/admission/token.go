package admission

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "interview-gateway"

// Claims are carried by tokens minted at admission
type Claims struct {
	CandidateName string `json:"name"`
	jwt.RegisteredClaims
}

// Signer mints and validates HS256 admission tokens
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates a signer. Tokens expire after ttl.
func NewSigner(key string, ttl time.Duration) *Signer {
	return &Signer{key: []byte(key), ttl: ttl, now: time.Now}
}

// Issue mints a token for the candidate of sessionID
func (s *Signer) Issue(sessionID, candidateName string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		CandidateName: candidateName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign admission token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses token and checks its signature, issuer and expiry
func (s *Signer) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("admission token expired: %w", err)
		}
		return nil, fmt.Errorf("invalid admission token: %w", err)
	}
	return claims, nil
}

// VerifyToken accepts token only if it is valid and was issued for sessionID
func (s *Signer) VerifyToken(token, sessionID string) error {
	claims, err := s.Validate(token)
	if err != nil {
		return err
	}
	if claims.Subject != sessionID {
		return fmt.Errorf("admission token was issued for session %q", claims.Subject)
	}
	return nil
}
