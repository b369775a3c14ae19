// Package transport connects a candidate's browser to an interview over a WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/lexiqai/interview-gateway/internal/admission"
	"github.com/lexiqai/interview-gateway/internal/capture"
	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/evaluation"
	"github.com/lexiqai/interview-gateway/internal/interview"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/playback"
	"github.com/lexiqai/interview-gateway/internal/session"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Candidates connect from the interview web app on another origin
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Client message types
const (
	TypeStart     = "start"
	TypeSubmit    = "submit"
	TypeSubmitNow = "submit_now"
	TypeMic       = "mic"
	TypeEnd       = "end"
)

// Server message types
const (
	TypeState    = "state"
	TypeNotice   = "notice"
	TypeFinished = "finished"
	TypeError    = "error"
)

// ClientMessage is any JSON message sent by the candidate's client
type ClientMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`

	// Capture relay events
	Run     uint64 `json:"run,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Playback completion
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// StateMessage pushes the interview state to the client
type StateMessage struct {
	Type  string          `json:"type"`
	State interview.State `json:"state"`
}

// NoticeMessage pushes a user-facing notice
type NoticeMessage struct {
	Type   string           `json:"type"`
	Notice interview.Notice `json:"notice"`
}

// FinishedMessage tells the client the interview is over
type FinishedMessage struct {
	Type    string            `json:"type"`
	Outcome interview.Outcome `json:"outcome"`
}

// ErrorMessage reports a rejected client message
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Deps are the shared services every interview connection uses
type Deps struct {
	Config      *config.Config
	Admitter    admission.Admitter
	Evaluator   evaluation.Evaluator
	Store       session.Store
	Synthesizer tts.Synthesizer
	Clock       clock.WithDelayedExecution
	Logger      zerolog.Logger
}

// Handler serves /interviews/ws. One live connection is kept per session;
// a reconnect replaces the previous one.
type Handler struct {
	deps Deps

	mu     sync.Mutex
	active map[string]*connection
}

// NewHandler creates the interview WebSocket handler
func NewHandler(deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	return &Handler{
		deps:   deps,
		active: make(map[string]*connection),
	}
}

// Active returns the number of connected interviews
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// ServeHTTP admits the candidate, upgrades the connection and runs the interview
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	passcode := query.Get("passcode")
	if passcode == "" {
		http.Error(w, "passcode is required", http.StatusUnauthorized)
		return
	}

	grant, err := h.deps.Admitter.Admit(r.Context(), query.Get("session"), passcode)
	if err != nil {
		if errors.Is(err, admission.ErrInvalidPasscode) {
			http.Error(w, "invalid passcode", http.StatusUnauthorized)
			return
		}
		h.deps.Logger.Error().Err(err).Msg("Admission failed")
		http.Error(w, "admission unavailable", http.StatusServiceUnavailable)
		return
	}

	// A live connection for the session is closed first so its writes are flushed
	h.evict(grant.SessionID)

	existing, history, err := h.load(r.Context(), grant.SessionID)
	if err != nil {
		h.deps.Logger.Error().Err(err).Str("session_id", grant.SessionID).Msg("Failed to load session")
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	if existing != nil && existing.Status == session.StatusCompleted {
		http.Error(w, "interview already completed", http.StatusConflict)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	c, err := h.newConnection(ws, grant, existing, history)
	if err != nil {
		h.deps.Logger.Error().Err(err).Str("session_id", grant.SessionID).Msg("Failed to create interview")
		ws.Close()
		return
	}

	h.register(c)
	defer h.unregister(c)

	c.logger.Info().Msg("Interview connection established")
	c.readLoop()
	c.close()
	c.logger.Info().Msg("Interview connection closed")
}

// load returns the stored record and message log of a session, or nil for a new one
func (h *Handler) load(ctx context.Context, id string) (*session.Session, []session.Message, error) {
	if h.deps.Store == nil {
		return nil, nil, nil
	}
	existing, err := h.deps.Store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	history, err := h.deps.Store.Messages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return existing, history, nil
}

func (h *Handler) evict(id string) {
	h.mu.Lock()
	prev := h.active[id]
	h.mu.Unlock()
	if prev != nil {
		prev.logger.Info().Msg("Replaced by a new connection")
		prev.close()
	}
}

// CloseAll ends every live interview and closes its connection
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.active))
	for _, c := range h.active {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *connection) {
			defer wg.Done()
			c.close()
		}(c)
	}
	wg.Wait()
}

func (h *Handler) register(c *connection) {
	h.mu.Lock()
	prev := h.active[c.sessionID]
	h.active[c.sessionID] = c
	h.mu.Unlock()

	if prev != nil {
		prev.logger.Info().Msg("Replaced by a new connection")
		prev.close()
	}
}

func (h *Handler) unregister(c *connection) {
	h.mu.Lock()
	if h.active[c.sessionID] == c {
		delete(h.active, c.sessionID)
	}
	h.mu.Unlock()
}

// connection is one candidate's socket and the interview behind it
type connection struct {
	sessionID string
	ws        *websocket.Conn
	out       *wsConn
	logger    zerolog.Logger

	iv         *interview.Interview
	supervisor *capture.Supervisor
	relay      *capture.RelayEngine
	deepgram   *capture.DeepgramEngine
	player     *playback.RelayPlayer

	closeOnce sync.Once
}

func (h *Handler) newConnection(ws *websocket.Conn, grant *admission.Grant, existing *session.Session, history []session.Message) (*connection, error) {
	cfg := h.deps.Config
	logger := observability.ForSession(grant.SessionID, grant.CandidateName).
		With().
		Str("correlation_id", observability.NewCorrelationID()).
		Logger()

	c := &connection{
		sessionID: grant.SessionID,
		ws:        ws,
		out:       newWSConn(ws, logger),
		logger:    logger,
	}

	var engine capture.Engine
	if cfg.CaptureEngine == config.CaptureDeepgram {
		c.deepgram = capture.NewDeepgramEngine(capture.DeepgramConfig{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			Language:   cfg.DeepgramLanguage,
			BufferSize: cfg.AudioBufferSize,
		}, logger)
		engine = c.deepgram
	} else {
		c.relay = capture.NewRelayEngine(c.out)
		engine = c.relay
	}

	policy := capture.NewRecoveryPolicy(
		time.Duration(cfg.CaptureRestartDelayMs)*time.Millisecond,
		time.Duration(cfg.CaptureBackoffFloorMs)*time.Millisecond,
		time.Duration(cfg.CaptureBackoffCapMs)*time.Millisecond,
	)
	c.supervisor = capture.NewSupervisor(engine, policy, h.deps.Clock, logger)

	c.player = playback.NewRelayPlayer(c.out, time.Duration(cfg.PlaybackTimeout)*time.Second, h.deps.Clock)
	player := playback.WithSynthesis(c.player, h.deps.Synthesizer, logger)

	iv, err := interview.New(
		interview.Info{
			SessionID:     grant.SessionID,
			CandidateName: grant.CandidateName,
			Existing:      existing,
			History:       history,
		},
		interview.Config{
			SilenceWindow:   cfg.SilenceWindow(),
			CompletionDelay: cfg.CompletionDelay(),
			KickoffPrompt:   cfg.KickoffPrompt,
		},
		interview.Dependencies{
			Evaluator: h.deps.Evaluator,
			Capture:   c.supervisor,
			Player:    player,
			Store:     h.deps.Store,
			Tokens:    grant,
			Clock:     h.deps.Clock,
			Logger:    &logger,
			Metrics:   observability.NewInterviewMetrics(grant.SessionID),
		},
		interview.Callbacks{
			OnState: func(s interview.State) {
				c.send(StateMessage{Type: TypeState, State: s})
			},
			OnNotice: func(n interview.Notice) {
				c.send(NoticeMessage{Type: TypeNotice, Notice: n})
			},
			OnFinished: func(o interview.Outcome) {
				c.send(FinishedMessage{Type: TypeFinished, Outcome: o})
				// Runs off the loop: close waits for the interview to stop
				go c.close()
			},
		},
	)
	if err != nil {
		c.out.Close()
		return nil, err
	}
	c.iv = iv
	return c, nil
}

func (c *connection) send(v any) {
	if err := c.out.Send(v); err != nil && !errors.Is(err, ErrConnClosed) {
		c.logger.Warn().Err(err).Msg("Failed to queue message")
	}
}

func (c *connection) readLoop() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if kind == websocket.BinaryMessage {
			c.handleAudio(data)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to parse client message")
			c.send(ErrorMessage{Type: TypeError, Message: "malformed message"})
			continue
		}
		if err := c.dispatch(msg); err != nil {
			if errors.Is(err, interview.ErrClosed) {
				return
			}
			c.send(ErrorMessage{Type: TypeError, Message: err.Error()})
		}
	}
}

func (c *connection) handleAudio(data []byte) {
	if c.deepgram == nil {
		return
	}
	if _, err := c.deepgram.Write(data); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to forward audio")
	}
}

func (c *connection) dispatch(msg ClientMessage) error {
	switch msg.Type {
	case TypeStart:
		return c.iv.Start()
	case TypeSubmit:
		return c.iv.SubmitAnswer(msg.Text)
	case TypeSubmitNow:
		return c.iv.SubmitNow()
	case TypeMic:
		if msg.Enabled == nil {
			return errors.New("mic message requires enabled")
		}
		return c.iv.ToggleMic(*msg.Enabled)
	case TypeEnd:
		return c.iv.End()
	case capture.MessageResult, capture.MessageEnd, capture.MessageError:
		if c.relay != nil {
			c.relay.Deliver(capture.RelayEvent{
				Type:    msg.Type,
				Run:     msg.Run,
				Text:    msg.Text,
				Final:   msg.Final,
				Code:    msg.Code,
				Message: msg.Message,
			})
		}
		return nil
	case playback.MessageDone:
		c.player.Done(msg.ID, msg.Error)
		return nil
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Unknown client message")
		return nil
	}
}

// close tears the interview down and closes the socket
func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.iv.Close()
		c.supervisor.Stop()
		c.out.Close()
		c.out.wait()
		c.ws.Close()
	})
}
