// Package session persists interview sessions and their message logs.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a session does not exist
	ErrNotFound = errors.New("session not found")
	// ErrInvalidID is returned for an empty session id
	ErrInvalidID = errors.New("invalid session id")
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
)

// Role identifies who spoke a message
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Session is one candidate's interview
type Session struct {
	ID            string    `json:"id"`
	CandidateName string    `json:"candidateName"`
	StartedAt     time.Time `json:"startedAt"`
	Status        Status    `json:"status"`
	Feedback      string    `json:"feedback,omitempty"`
	Score         *float64  `json:"score,omitempty"`
}

// Message is one entry of the append-only conversation log
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage creates a message stamped with a fresh id and the current time
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Store persists sessions and their message logs
type Store interface {
	// Save creates or replaces the session record
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Complete marks the session completed and records its outcome
	Complete(ctx context.Context, id, feedback string, score *float64) error
	Append(ctx context.Context, id string, msg Message) error
	Messages(ctx context.Context, id string) ([]Message, error)
	Ping(ctx context.Context) error
}
