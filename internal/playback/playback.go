// Package playback plays interviewer audio on the candidate's client.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/lexiqai/interview-gateway/internal/tts"
)

// Relay message types
const (
	MessageStart = "playback.start"
	MessageStop  = "playback.stop"
	MessageDone  = "playback.done"
)

var (
	// ErrTimeout is returned when the client never acknowledged a clip
	ErrTimeout = errors.New("playback timed out")
	// ErrStopped is returned to a Play call interrupted by Stop
	ErrStopped = errors.New("playback stopped")
)

// Clip is one piece of interviewer speech. Audio is opaque to the server;
// when it is empty the client may speak Text itself.
type Clip struct {
	ID    string
	Audio []byte
	Text  string
}

// Player plays clips. Play returns once the clip has finished, failed, or been stopped.
type Player interface {
	Play(ctx context.Context, clip Clip) error
	Stop()
}

// Sender delivers JSON control messages to the client
type Sender interface {
	Send(v any) error
}

// StartMessage asks the client to play a clip. Audio is base64 encoded by encoding/json.
type StartMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Audio []byte `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

// StopMessage asks the client to stop all playback
type StopMessage struct {
	Type string `json:"type"`
}

// RelayPlayer plays clips on the client and waits for its acknowledgement
type RelayPlayer struct {
	sender  Sender
	timeout time.Duration
	clock   clock.Clock

	mu      sync.Mutex
	pending map[string]chan error
}

// NewRelayPlayer creates a player that gives up on a clip after timeout
func NewRelayPlayer(sender Sender, timeout time.Duration, clk clock.Clock) *RelayPlayer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RelayPlayer{
		sender:  sender,
		timeout: timeout,
		clock:   clk,
		pending: make(map[string]chan error),
	}
}

// Play sends the clip and blocks until the client reports it done
func (p *RelayPlayer) Play(ctx context.Context, clip Clip) error {
	if clip.ID == "" {
		clip.ID = uuid.New().String()
	}

	done := make(chan error, 1)
	p.mu.Lock()
	p.pending[clip.ID] = done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, clip.ID)
		p.mu.Unlock()
	}()

	if err := p.sender.Send(StartMessage{Type: MessageStart, ID: clip.ID, Audio: clip.Audio, Text: clip.Text}); err != nil {
		return fmt.Errorf("failed to send clip: %w", err)
	}

	timer := p.clock.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C():
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done settles the clip with the given id. A non-empty errMsg marks it failed.
func (p *RelayPlayer) Done(id, errMsg string) {
	p.mu.Lock()
	done, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return
	}

	var err error
	if errMsg != "" {
		err = fmt.Errorf("client playback failed: %s", errMsg)
	}
	select {
	case done <- err:
	default:
	}
}

// Stop silences the client and releases every waiting Play call
func (p *RelayPlayer) Stop() {
	p.mu.Lock()
	for _, done := range p.pending {
		select {
		case done <- ErrStopped:
		default:
		}
	}
	p.mu.Unlock()

	_ = p.sender.Send(StopMessage{Type: MessageStop})
}

// SynthesizingPlayer fills in audio for text-only clips before playing them
type SynthesizingPlayer struct {
	Player
	synth  tts.Synthesizer
	logger zerolog.Logger
}

// WithSynthesis wraps player so text-only clips are synthesized first
func WithSynthesis(player Player, synth tts.Synthesizer, logger zerolog.Logger) Player {
	if synth == nil {
		return player
	}
	return &SynthesizingPlayer{Player: player, synth: synth, logger: logger}
}

// Play synthesizes missing audio, then plays the clip.
// A synthesis failure still plays the clip as text.
func (s *SynthesizingPlayer) Play(ctx context.Context, clip Clip) error {
	if len(clip.Audio) == 0 && clip.Text != "" {
		audio, err := s.synth.Synthesize(ctx, clip.Text)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Speech synthesis failed, sending text only")
		} else {
			clip.Audio = audio
		}
	}
	return s.Player.Play(ctx, clip)
}
