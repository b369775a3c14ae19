package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/lexiqai/interview-gateway/internal/transcript"
)

// Relay message types
const (
	MessageStart  = "capture.start"
	MessageStop   = "capture.stop"
	MessageResult = "capture.result"
	MessageEnd    = "capture.end"
	MessageError  = "capture.error"
)

// ErrNoSender is returned when a relay engine has nowhere to send control messages
var ErrNoSender = errors.New("capture relay has no sender")

// Sender delivers JSON control messages to the client hosting the recognizer
type Sender interface {
	Send(v any) error
}

// ControlMessage asks the client to start or stop recognition
type ControlMessage struct {
	Type string `json:"type"`
	Run  uint64 `json:"run,omitempty"`
}

// RelayEvent is a recognizer event reported back by the client
type RelayEvent struct {
	Type    string `json:"type"`
	Run     uint64 `json:"run,omitempty"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// RelayEngine drives a recognizer that runs in the candidate's client.
// Runs are numbered so late events from a previous run can be dropped.
type RelayEngine struct {
	sender Sender

	mu      sync.Mutex
	run     uint64
	active  bool
	handler Handler
}

// NewRelayEngine creates an engine that controls the client through sender
func NewRelayEngine(sender Sender) *RelayEngine {
	return &RelayEngine{sender: sender}
}

// Start asks the client to begin a recognition run
func (r *RelayEngine) Start(ctx context.Context, h Handler) error {
	if r.sender == nil {
		return ErrNoSender
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.run++
	run := r.run
	r.active = true
	r.handler = h
	r.mu.Unlock()

	if err := r.sender.Send(ControlMessage{Type: MessageStart, Run: run}); err != nil {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
		return NewError(CodeNetwork, err.Error())
	}
	return nil
}

// Stop asks the client to end the current run
func (r *RelayEngine) Stop() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	run := r.run
	r.mu.Unlock()

	if r.sender == nil {
		return nil
	}
	return r.sender.Send(ControlMessage{Type: MessageStop, Run: run})
}

// Deliver routes a client event to the active run's handler.
// Events for other runs, or arriving while stopped, are dropped.
func (r *RelayEngine) Deliver(ev RelayEvent) {
	r.mu.Lock()
	if !r.active || (ev.Run != 0 && ev.Run != r.run) {
		r.mu.Unlock()
		return
	}
	h := r.handler
	if ev.Type == MessageEnd || ev.Type == MessageError {
		r.active = false
	}
	r.mu.Unlock()

	switch ev.Type {
	case MessageResult:
		h.fragment(transcript.Fragment{Text: ev.Text, Final: ev.Final})
	case MessageEnd:
		h.ended()
	case MessageError:
		h.error(NewError(ev.Code, ev.Message))
	}
}
