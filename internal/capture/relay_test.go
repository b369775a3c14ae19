package capture

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/interview-gateway/internal/transcript"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []ControlMessage
	err  error
}

func (s *recordingSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, v.(ControlMessage))
	return nil
}

func TestRelayEngine_StartStop(t *testing.T) {
	sender := &recordingSender{}
	r := NewRelayEngine(sender)

	require.NoError(t, r.Start(context.Background(), Handler{}))
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())

	require.Len(t, sender.sent, 2)
	assert.Equal(t, ControlMessage{Type: MessageStart, Run: 1}, sender.sent[0])
	assert.Equal(t, ControlMessage{Type: MessageStop, Run: 1}, sender.sent[1])
}

func TestRelayEngine_DeliverRoutesEvents(t *testing.T) {
	r := NewRelayEngine(&recordingSender{})

	var fragments []transcript.Fragment
	var ended bool
	require.NoError(t, r.Start(context.Background(), Handler{
		OnFragment: func(f transcript.Fragment) { fragments = append(fragments, f) },
		OnEnded:    func() { ended = true },
	}))

	r.Deliver(RelayEvent{Type: MessageResult, Run: 1, Text: "I am", Final: false})
	r.Deliver(RelayEvent{Type: MessageResult, Text: "I am done", Final: true})
	r.Deliver(RelayEvent{Type: MessageEnd, Run: 1})
	// Run is over; later results are dropped
	r.Deliver(RelayEvent{Type: MessageResult, Run: 1, Text: "late"})

	assert.Equal(t, []transcript.Fragment{{Text: "I am"}, {Text: "I am done", Final: true}}, fragments)
	assert.True(t, ended)
}

func TestRelayEngine_DropsOtherRuns(t *testing.T) {
	r := NewRelayEngine(&recordingSender{})

	var got error
	require.NoError(t, r.Start(context.Background(), Handler{}))
	require.NoError(t, r.Stop())
	require.NoError(t, r.Start(context.Background(), Handler{OnError: func(err error) { got = err }}))

	r.Deliver(RelayEvent{Type: MessageError, Run: 1, Code: CodeNetwork})
	assert.Nil(t, got)

	r.Deliver(RelayEvent{Type: MessageError, Run: 2, Code: CodeNotAllowed})
	assert.ErrorIs(t, got, ErrPermissionDenied)
}

func TestRelayEngine_SendFailureIsTransient(t *testing.T) {
	r := NewRelayEngine(&recordingSender{err: errors.New("websocket: close sent")})

	err := r.Start(context.Background(), Handler{})

	require.Error(t, err)
	assert.Equal(t, Transient, ClassOf(err))
}

func TestRelayEngine_NoSender(t *testing.T) {
	r := NewRelayEngine(nil)
	assert.ErrorIs(t, r.Start(context.Background(), Handler{}), ErrNoSender)
}
