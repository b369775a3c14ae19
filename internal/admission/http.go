package admission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/resilience"
)

// HTTPConfig configures the remote admission client
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   *resilience.RetryConfig
}

type admitRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Passcode  string `json:"passcode"`
}

type admitResponse struct {
	Valid         bool      `json:"valid"`
	SessionID     string    `json:"sessionId"`
	CandidateName string    `json:"candidateName"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// HTTPAdmitter validates passcodes against a remote admission service
type HTTPAdmitter struct {
	http   *resty.Client
	retry  *resilience.RetryConfig
	logger zerolog.Logger
}

// NewHTTPAdmitter creates a remote admission client
func NewHTTPAdmitter(cfg HTTPConfig, logger zerolog.Logger) *HTTPAdmitter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &HTTPAdmitter{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		retry:  cfg.Retry,
		logger: logger.With().Str("component", "admission").Logger(),
	}
}

// Admit exchanges the passcode, retrying network failures and server errors
func (a *HTTPAdmitter) Admit(ctx context.Context, sessionID, passcode string) (*Grant, error) {
	var out admitResponse
	attempt := 0

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		resp, err := a.http.R().
			SetContext(ctx).
			SetBody(admitRequest{SessionID: sessionID, Passcode: passcode}).
			SetResult(&out).
			Post("/admissions")
		if err != nil {
			a.logger.Warn().Err(err).Int("attempt", attempt).Msg("Admission request failed")
			return resilience.NewRetryableError(err)
		}

		switch {
		case resp.StatusCode() == http.StatusUnauthorized,
			resp.StatusCode() == http.StatusForbidden,
			resp.StatusCode() == http.StatusNotFound:
			return ErrInvalidPasscode
		case resp.StatusCode() >= http.StatusInternalServerError,
			resp.StatusCode() == http.StatusTooManyRequests:
			return resilience.NewRetryableError(fmt.Errorf("admission service returned status %d", resp.StatusCode()))
		case resp.IsError():
			return fmt.Errorf("admission service returned status %d", resp.StatusCode())
		}
		return nil
	}, a.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return nil, err
	}

	if !out.Valid || out.Token == "" {
		return nil, ErrInvalidPasscode
	}
	if out.SessionID == "" {
		out.SessionID = sessionID
	}

	return &Grant{
		SessionID:     out.SessionID,
		CandidateName: out.CandidateName,
		AccessToken:   out.Token,
		ExpiresAt:     out.ExpiresAt,
	}, nil
}
