// Package capture runs speech capture engines and restarts them when they drop out.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/interview-gateway/internal/transcript"
)

// ErrPermissionDenied matches capture errors that need user action before retrying
var ErrPermissionDenied = errors.New("capture permission denied")

// Error codes reported by capture engines
const (
	CodeNoSpeech          = "no-speech"
	CodeAudioCapture      = "audio-capture"
	CodeNetwork           = "network"
	CodeAborted           = "aborted"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
)

// Class groups capture errors by how recovery treats them
type Class int

const (
	// Transient errors are retried with backoff
	Transient Class = iota
	// Permission errors are never retried automatically
	Permission
)

func (c Class) String() string {
	if c == Permission {
		return "permission"
	}
	return "transient"
}

// Classify maps an engine error code to its recovery class.
// Unknown codes are transient.
func Classify(code string) Class {
	switch code {
	case CodeNotAllowed, CodeServiceNotAllowed:
		return Permission
	default:
		return Transient
	}
}

// Error is a failure reported by a capture engine
type Error struct {
	Code    string
	Message string
}

// NewError builds a capture error from an engine code
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("capture error: %s", e.Code)
	}
	return fmt.Sprintf("capture error: %s: %s", e.Code, e.Message)
}

// Class returns the recovery class of the error
func (e *Error) Class() Class {
	return Classify(e.Code)
}

// Is lets errors.Is(err, ErrPermissionDenied) match permission failures
func (e *Error) Is(target error) bool {
	return target == ErrPermissionDenied && e.Class() == Permission
}

// ClassOf classifies any error. Errors that are not capture errors are transient.
func ClassOf(err error) Class {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Class()
	}
	return Transient
}

// Handler receives engine events. Fields may be nil.
type Handler struct {
	OnFragment func(transcript.Fragment)
	OnEnded    func()
	OnError    func(error)
}

func (h Handler) fragment(f transcript.Fragment) {
	if h.OnFragment != nil {
		h.OnFragment(f)
	}
}

func (h Handler) ended() {
	if h.OnEnded != nil {
		h.OnEnded()
	}
}

func (h Handler) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Engine is a black-box speech recognizer.
// Start begins one recognition run that reports through h until it ends, errors or is stopped.
// Stop must be safe to call when the engine is not running.
type Engine interface {
	Start(ctx context.Context, h Handler) error
	Stop() error
}
