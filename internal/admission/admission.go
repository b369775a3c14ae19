// Package admission exchanges a passcode for a candidate identity and token.
package admission

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/interview-gateway/internal/evaluation"
)

// ErrInvalidPasscode is returned when the passcode does not admit the session
var ErrInvalidPasscode = errors.New("admission: invalid passcode")

// Admitter admits a candidate to an interview session
type Admitter interface {
	Admit(ctx context.Context, sessionID, passcode string) (*Grant, error)
}

// Grant is the outcome of a successful admission
type Grant struct {
	SessionID     string
	CandidateName string
	AccessToken   string
	ExpiresAt     time.Time

	now func() time.Time
}

// Token returns the access token while it is still valid.
// It satisfies evaluation.TokenSource.
func (g *Grant) Token() (string, error) {
	if g == nil || g.AccessToken == "" {
		return "", evaluation.ErrUnauthenticated
	}
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	if !g.ExpiresAt.IsZero() && !now().Before(g.ExpiresAt) {
		return "", evaluation.ErrUnauthenticated
	}
	return g.AccessToken, nil
}
