// Package evaluation sends committed answers to the evaluation backend.
package evaluation

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no valid admission token is available
	// or the backend rejected it. The call is not retried.
	ErrUnauthenticated = errors.New("evaluation: unauthenticated")
	// ErrEmptyResult is returned for a result with neither a next question nor completion
	ErrEmptyResult = errors.New("evaluation: result has no next question")
	// ErrRejected is returned when the backend refused this particular request
	ErrRejected = errors.New("evaluation: request rejected")
)

// backendFailure reports whether err reflects the backend's health. Cancellation
// by the caller and per-candidate rejections do not count against the breaker.
func backendFailure(ctx context.Context) func(error) bool {
	return func(err error) bool {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return false
		}
		return !errors.Is(err, ErrUnauthenticated) && !errors.Is(err, ErrRejected)
	}
}

// Request is one answer sent for evaluation
type Request struct {
	SessionID     string
	PriorQuestion string
	Answer        string
}

// Result is the backend's reply to one answer.
// An empty NextQuestion means there is none.
type Result struct {
	NextQuestion string
	Complete     bool
	Audio        []byte
	Feedback     string
	Score        *float64
}

// Validate rejects results that cannot drive the next turn
func (r *Result) Validate() error {
	if r == nil {
		return ErrEmptyResult
	}
	if !r.Complete && strings.TrimSpace(r.NextQuestion) == "" {
		return ErrEmptyResult
	}
	return nil
}

// Evaluator evaluates an answer and returns what comes next
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
}

// TokenSource supplies the bearer token obtained at admission
type TokenSource interface {
	Token() (string, error)
}

// TokenVerifier checks that a bearer token was issued for sessionID
type TokenVerifier interface {
	VerifyToken(token, sessionID string) error
}

// StaticToken is a TokenSource that never expires
type StaticToken string

// Token returns the token, or ErrUnauthenticated when it is empty
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrUnauthenticated
	}
	return string(t), nil
}

// bearer resolves the token attached to ctx before any network traffic happens
func bearer(ctx context.Context) (string, error) {
	tokens := TokenSourceFrom(ctx)
	if tokens == nil {
		return "", ErrUnauthenticated
	}
	token, err := tokens.Token()
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return "", err
		}
		return "", errors.Join(ErrUnauthenticated, err)
	}
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}

type tokenKey struct{}

// WithTokenSource attaches the interview's token source to ctx
func WithTokenSource(ctx context.Context, tokens TokenSource) context.Context {
	return context.WithValue(ctx, tokenKey{}, tokens)
}

// TokenSourceFrom returns the token source attached to ctx, if any
func TokenSourceFrom(ctx context.Context) TokenSource {
	tokens, _ := ctx.Value(tokenKey{}).(TokenSource)
	return tokens
}
