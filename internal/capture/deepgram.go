package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/audio"
	"github.com/lexiqai/interview-gateway/internal/transcript"
)

// ErrNotRunning is returned when audio arrives for an engine without a live stream
var ErrNotRunning = errors.New("capture engine is not running")

// DeepgramConfig configures the server-side streaming recognizer
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	Encoding   string
	SampleRate int
	BufferSize int // bytes of audio held while no stream is open
}

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	run     uint64
	engine  *DeepgramEngine
	handler Handler
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	text := msg.Channel.Alternatives[0].Transcript
	if text == "" || !m.engine.current(m.run) {
		return nil
	}
	m.handler.fragment(transcript.Fragment{Text: text, Final: msg.IsFinal})
	return nil
}

// Close reports an engine-imposed end of the stream
func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	if m.engine.finish(m.run) {
		m.handler.ended()
	}
	return nil
}

// Error reports a stream failure. Deepgram errors are treated as network errors.
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.engine.finish(m.run) {
		m.handler.error(NewError(CodeNetwork, fmt.Sprintf("deepgram: %+v", errorResponse)))
	}
	return nil
}

// DeepgramEngine recognizes candidate audio on the server with Deepgram streaming.
// Audio written while a run has dropped out is buffered and flushed into the
// restarted run. After Stop, audio is discarded until the next Start.
type DeepgramEngine struct {
	config  DeepgramConfig
	logger  zerolog.Logger
	backlog *audio.RingBuffer

	mu        sync.Mutex
	client    *listenClient.WSCallback
	run       uint64
	active    bool
	listening bool // between Start and Stop, including drop-outs
}

// NewDeepgramEngine creates a Deepgram streaming engine
func NewDeepgramEngine(cfg DeepgramConfig, logger zerolog.Logger) *DeepgramEngine {
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 * 1024
	}
	return &DeepgramEngine{
		config:  cfg,
		logger:  logger.With().Str("component", "deepgram").Logger(),
		backlog: audio.NewRingBuffer(cfg.BufferSize),
	}
}

// Start opens a new streaming session
func (d *DeepgramEngine) Start(ctx context.Context, h Handler) error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return nil
	}
	if !d.listening {
		d.backlog.Clear()
		d.listening = true
	}
	d.run++
	run := d.run
	d.mu.Unlock()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.Model,
		Language:       d.config.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Encoding:       d.config.Encoding,
		Channels:       1,
		SampleRate:     d.config.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		run:                    run,
		engine:                 d,
		handler:                h,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.config.APIKey, nil, tOptions, callback)
	if err != nil {
		return NewError(CodeNetwork, fmt.Sprintf("failed to create Deepgram client: %v", err))
	}
	if !client.Connect() {
		return NewError(CodeNetwork, "failed to connect to Deepgram")
	}

	d.mu.Lock()
	if run != d.run {
		// Stopped while connecting
		d.mu.Unlock()
		client.Stop()
		return nil
	}
	d.client = client
	d.active = true
	pending := d.backlog.Drain()
	d.mu.Unlock()

	if len(pending) > 0 {
		if _, err := client.Write(pending); err != nil {
			d.logger.Warn().Err(err).Int("bytes", len(pending)).Msg("Failed to flush buffered audio")
		}
	}

	d.logger.Info().
		Str("model", d.config.Model).
		Str("language", d.config.Language).
		Msg("Deepgram streaming started")
	return nil
}

// Write sends candidate audio to the live stream, buffers it while a run
// has dropped out, and discards it while stopped
func (d *DeepgramEngine) Write(p []byte) (int, error) {
	d.mu.Lock()
	client := d.client
	active := d.active
	listening := d.listening
	d.mu.Unlock()

	if !listening {
		return len(p), nil
	}
	if !active || client == nil {
		if dropped := d.backlog.Write(p); dropped > 0 {
			d.logger.Debug().Int("dropped", dropped).Msg("Audio backlog full, dropping oldest audio")
		}
		return len(p), nil
	}
	if _, err := client.Write(p); err != nil {
		return 0, fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return len(p), nil
}

// Stop closes the current streaming session
func (d *DeepgramEngine) Stop() error {
	d.mu.Lock()
	d.run++
	client := d.client
	d.client = nil
	d.active = false
	d.listening = false
	d.mu.Unlock()

	d.backlog.Clear()
	if client != nil {
		client.Finish()
		d.logger.Info().Msg("Deepgram streaming stopped")
	}
	return nil
}

func (d *DeepgramEngine) current(run uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active && run == d.run
}

// finish marks run as over and reports whether it was still the live run
func (d *DeepgramEngine) finish(run uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active || run != d.run {
		return false
	}
	d.active = false
	d.client = nil
	return true
}
