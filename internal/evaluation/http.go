package evaluation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/resilience"
)

// HTTPConfig configures the HTTP evaluator client
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// evaluateRequest is the JSON body sent to the backend
type evaluateRequest struct {
	SessionID       string `json:"sessionId,omitempty"`
	PriorQuestion   string `json:"priorQuestion"`
	CandidateAnswer string `json:"candidateAnswer"`
}

// evaluateResponse is the JSON body returned by the backend.
// audioPayload is base64, which encoding/json decodes into []byte.
type evaluateResponse struct {
	NextQuestion      *string  `json:"nextQuestion"`
	InterviewComplete bool     `json:"interviewComplete"`
	AudioPayload      []byte   `json:"audioPayload"`
	Feedback          string   `json:"feedback,omitempty"`
	Score             *float64 `json:"score,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPEvaluator calls the evaluation backend over HTTP. Calls are guarded by
// a circuit breaker and never retried, since the candidate may need to re-answer.
type HTTPEvaluator struct {
	http    *resty.Client
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewHTTPEvaluator creates an HTTP evaluator client
func NewHTTPEvaluator(cfg HTTPConfig, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *HTTPEvaluator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &HTTPEvaluator{
		http:    client,
		breaker: breaker,
		logger:  logger.With().Str("component", "evaluator").Str("transport", "http").Logger(),
	}
}

// Evaluate posts the answer and decodes the next step
func (e *HTTPEvaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	token, err := bearer(ctx)
	if err != nil {
		return nil, err
	}

	var out evaluateResponse
	call := func() error {
		resp, err := e.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(evaluateRequest{
				SessionID:       req.SessionID,
				PriorQuestion:   req.PriorQuestion,
				CandidateAnswer: req.Answer,
			}).
			SetResult(&out).
			SetError(&errorResponse{}).
			Post("/evaluate")
		if err != nil {
			return fmt.Errorf("evaluation request failed: %w", err)
		}
		return statusError(resp)
	}

	if e.breaker != nil {
		err = e.breaker.CallClassified(call, backendFailure(ctx))
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		Complete: out.InterviewComplete,
		Audio:    out.AudioPayload,
		Feedback: out.Feedback,
		Score:    out.Score,
	}
	if out.NextQuestion != nil {
		result.NextQuestion = *out.NextQuestion
	}
	return result, nil
}

// Ping checks the backend health endpoint
func (e *HTTPEvaluator) Ping(ctx context.Context) (bool, error) {
	resp, err := e.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return false, err
	}
	return resp.StatusCode() == http.StatusOK, nil
}

func statusError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	msg := ""
	if body, ok := resp.Error().(*errorResponse); ok && body != nil {
		msg = body.Error
	}
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Join(ErrUnauthenticated, fmt.Errorf("backend rejected token: %s", msg))
	default:
		if resp.StatusCode() < http.StatusInternalServerError && resp.StatusCode() != http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode(), msg)
		}
		return fmt.Errorf("evaluation backend returned status %d: %s", resp.StatusCode(), msg)
	}
}
