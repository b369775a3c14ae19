package evaluation

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DefaultQuestions is the script used when no evaluation backend is configured
var DefaultQuestions = []string{
	"Tell me about yourself.",
	"Describe a challenging project you worked on and how you handled it.",
	"How do you approach debugging a problem you have never seen before?",
	"Tell me about a time you disagreed with a teammate. What happened?",
	"Where would you like to grow over the next few years?",
}

// DefaultClosing is spoken after the last scripted answer
const DefaultClosing = "Thank you for your time. That concludes our interview."

// StaticEvaluator walks a fixed list of questions per session.
// An empty prior question starts the script over.
type StaticEvaluator struct {
	questions []string
	closing   string
	verifier  TokenVerifier

	mu       sync.Mutex
	progress map[string]int
}

// NewStaticEvaluator creates a scripted evaluator. A nil script uses DefaultQuestions.
func NewStaticEvaluator(questions []string, closing string) *StaticEvaluator {
	if len(questions) == 0 {
		questions = DefaultQuestions
	}
	if closing == "" {
		closing = DefaultClosing
	}
	return &StaticEvaluator{
		questions: questions,
		closing:   closing,
		progress:  make(map[string]int),
	}
}

// WithVerifier makes the evaluator reject tokens that v does not accept for the session
func (s *StaticEvaluator) WithVerifier(v TokenVerifier) *StaticEvaluator {
	s.verifier = v
	return s
}

// Evaluate returns the next scripted question, or completes after the last one
func (s *StaticEvaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	token, err := bearer(ctx)
	if err != nil {
		return nil, err
	}
	if s.verifier != nil {
		if err := s.verifier.VerifyToken(token, req.SessionID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.PriorQuestion == "" {
		s.progress[req.SessionID] = 0
		return &Result{NextQuestion: s.questions[0]}, nil
	}

	next := s.progress[req.SessionID] + 1
	score := scoreAnswer(req.Answer)
	if next >= len(s.questions) {
		delete(s.progress, req.SessionID)
		return &Result{
			NextQuestion: s.closing,
			Complete:     true,
			Feedback:     "Thanks for walking through your experience in detail.",
			Score:        &score,
		}, nil
	}

	s.progress[req.SessionID] = next
	return &Result{NextQuestion: s.questions[next], Score: &score}, nil
}

// scoreAnswer gives longer answers a higher score, from 1 to 10
func scoreAnswer(answer string) float64 {
	words := len(strings.Fields(answer))
	score := 1 + float64(words)/10
	if score > 10 {
		score = 10
	}
	return score
}
