// Package interview coordinates one spoken interview: it plays questions,
// listens for the answer, decides when the candidate has finished, and commits
// each answer for evaluation exactly once.
//
// Every piece of turn state is owned by a single event-loop goroutine. Timers,
// capture callbacks, evaluation replies and playback completions are posted to
// that loop as closures, so handlers never run concurrently and each one sees
// a consistent snapshot of phase, guard and cycle.
package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/lexiqai/interview-gateway/internal/evaluation"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/playback"
	"github.com/lexiqai/interview-gateway/internal/session"
	"github.com/lexiqai/interview-gateway/internal/transcript"
	"github.com/lexiqai/interview-gateway/internal/turn"
)

var (
	// ErrClosed is returned by actions on a closed interview
	ErrClosed = errors.New("interview closed")
	// ErrEnded is returned when starting an interview the candidate already ended
	ErrEnded = errors.New("interview ended")
)

const eventQueueSize = 64

// Capture is the speech capture service the interview listens through
type Capture interface {
	Start(ctx context.Context, onTranscript func(transcript.Fragment)) error
	Stop()
	Running() bool
	OnBlocked(fn func(error))
}

// Config holds turn-taking timing
type Config struct {
	// SilenceWindow is the quiet interval after the last fragment before auto-submit
	SilenceWindow time.Duration
	// CompletionDelay is the pause between completion and finishing the session
	CompletionDelay time.Duration
	// KickoffPrompt is sent as the answer of the request that fetches the first question
	KickoffPrompt string
}

// DefaultConfig returns the reference timings
func DefaultConfig() Config {
	return Config{
		SilenceWindow:   3 * time.Second,
		CompletionDelay: 1500 * time.Millisecond,
		KickoffPrompt:   "start the interview",
	}
}

// Dependencies are the collaborators of one interview. Evaluator, Capture
// and Player are required.
type Dependencies struct {
	Evaluator evaluation.Evaluator
	Capture   Capture
	Player    playback.Player
	Store     session.Store
	Tokens    evaluation.TokenSource
	Clock     clock.WithDelayedExecution
	Logger    *zerolog.Logger
	Metrics   *observability.Metrics
}

// Callbacks observe the interview. They run on the event loop and must not
// block or call back into the Interview synchronously.
type Callbacks struct {
	OnState    func(State)
	OnNotice   func(Notice)
	OnFinished func(Outcome)
}

// Info identifies the admitted candidate. Existing and History are set when
// the candidate rejoins a session that is already stored.
type Info struct {
	SessionID     string
	CandidateName string
	Existing      *session.Session
	History       []session.Message
}

// Interview is the turn-taking coordinator of one session
type Interview struct {
	cfg       Config
	evaluator evaluation.Evaluator
	capture   Capture
	player    playback.Player
	clock     clock.WithDelayedExecution
	logger    zerolog.Logger
	metrics   *observability.Metrics
	callbacks Callbacks
	persister *persister

	ctx    context.Context
	cancel context.CancelFunc

	events    chan func()
	closed    chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Loop-owned state
	machine         *turn.Machine
	buffer          *transcript.Aggregator
	session         session.Session
	messages        []session.Message
	currentQuestion string
	feedback        string
	score           *float64

	micEnabled   bool
	micBlocked   bool
	waiting      bool
	submitting   bool
	aiSpeaking   bool
	initializing bool
	initialized  bool
	completed    bool
	ended        bool
	finished     bool
	counted      bool
	resumed      bool

	debounce   clock.Timer
	completion clock.Timer
	evalCancel context.CancelFunc
	playCancel context.CancelFunc
	playGen    uint64
}

// New creates an interview and starts its event loop. Call Close when done.
func New(info Info, cfg Config, deps Dependencies, callbacks Callbacks) (*Interview, error) {
	if info.SessionID == "" {
		return nil, session.ErrInvalidID
	}
	if deps.Evaluator == nil || deps.Capture == nil || deps.Player == nil {
		return nil, fmt.Errorf("interview %s: evaluator, capture and player are required", info.SessionID)
	}
	defaults := DefaultConfig()
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = defaults.SilenceWindow
	}
	if cfg.CompletionDelay < 0 {
		cfg.CompletionDelay = defaults.CompletionDelay
	}
	if cfg.KickoffPrompt == "" {
		cfg.KickoffPrompt = defaults.KickoffPrompt
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	logger := observability.ForSession(info.SessionID, info.CandidateName)
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	if deps.Tokens != nil {
		ctx = evaluation.WithTokenSource(ctx, deps.Tokens)
	}

	iv := &Interview{
		cfg:       cfg,
		evaluator: deps.Evaluator,
		capture:   deps.Capture,
		player:    deps.Player,
		clock:     deps.Clock,
		logger:    logger,
		metrics:   deps.Metrics,
		callbacks: callbacks,
		persister: newPersister(deps.Store, info.SessionID, logger),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan func(), eventQueueSize),
		closed:    make(chan struct{}),
		loopDone:  make(chan struct{}),
		machine:   turn.NewMachine(),
		buffer:    transcript.NewAggregator(),
		session: session.Session{
			ID:            info.SessionID,
			CandidateName: info.CandidateName,
			StartedAt:     deps.Clock.Now().UTC(),
			Status:        session.StatusActive,
		},
		micEnabled: true,
	}
	if info.Existing != nil {
		iv.resume(info.Existing, info.History)
	}

	iv.capture.OnBlocked(func(err error) {
		go iv.enqueue(func() { iv.captureBlocked(err) })
	})

	go iv.loop()
	return iv, nil
}

// resume continues a stored session: its record keeps its start time and the
// conversation so far is restored in place of a new kickoff
func (iv *Interview) resume(existing *session.Session, history []session.Message) {
	id := iv.session.ID
	iv.session = *existing
	iv.session.ID = id
	iv.messages = append([]session.Message(nil), history...)
	iv.feedback = existing.Feedback
	if existing.Score != nil {
		v := *existing.Score
		iv.score = &v
	}
	iv.completed = existing.Status == session.StatusCompleted
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleInterviewer {
			iv.currentQuestion = history[i].Content
			break
		}
	}
	iv.resumed = iv.currentQuestion != ""
}

func (iv *Interview) loop() {
	defer close(iv.loopDone)
	for {
		select {
		case fn := <-iv.events:
			fn()
		case <-iv.closed:
			return
		}
	}
}

// enqueue posts fn to the loop. It reports false once the interview is closed.
func (iv *Interview) enqueue(fn func()) bool {
	select {
	case <-iv.closed:
		return false
	default:
	}
	select {
	case iv.events <- fn:
		return true
	case <-iv.closed:
		return false
	}
}

// call runs fn on the loop and waits for it
func (iv *Interview) call(fn func()) error {
	done := make(chan struct{})
	if !iv.enqueue(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-iv.closed:
		return ErrClosed
	}
}

// SessionID returns the interview's session id
func (iv *Interview) SessionID() string {
	return iv.session.ID
}

// Start fetches the first question. It is a no-op while the interview is
// starting or running, and may be called again after a failed start.
func (iv *Interview) Start() error {
	var err error
	if cerr := iv.call(func() { err = iv.start() }); cerr != nil {
		return cerr
	}
	return err
}

// SubmitAnswer commits text as the candidate's answer, if a submission is allowed now
func (iv *Interview) SubmitAnswer(text string) error {
	return iv.call(func() { iv.submit(text, triggerManual) })
}

// SubmitNow commits whatever has been heard so far in this turn
func (iv *Interview) SubmitNow() error {
	return iv.call(func() { iv.submit(iv.buffer.Text(), triggerManual) })
}

// ToggleMic enables or disables listening without losing the conversation
func (iv *Interview) ToggleMic(enabled bool) error {
	return iv.call(func() { iv.toggleMic(enabled) })
}

// End terminates the interview at the candidate's request
func (iv *Interview) End() error {
	return iv.call(func() { iv.end() })
}

// Snapshot returns the current state
func (iv *Interview) Snapshot() (State, error) {
	var st State
	err := iv.call(func() { st = iv.state() })
	return st, err
}

// Close ends the interview if needed, stops the loop and flushes pending writes
func (iv *Interview) Close() error {
	_ = iv.End()
	iv.closeOnce.Do(func() {
		close(iv.closed)
		<-iv.loopDone
		iv.cancel()
		iv.persister.close()
	})
	return nil
}
