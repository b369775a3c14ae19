package capture

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/transcript"
)

// Supervisor owns the single engine handle of one interview. It starts and
// stops runs on request and restarts them according to its RecoveryPolicy.
// Events from a run that has been stopped or replaced are dropped.
type Supervisor struct {
	engine Engine
	policy *RecoveryPolicy
	clock  clock.WithDelayedExecution
	logger zerolog.Logger

	mu           sync.Mutex
	ctx          context.Context
	desired      bool
	running      bool
	blocked      bool
	run          uint64
	restart      clock.Timer
	onTranscript func(transcript.Fragment)
	onBlocked    func(error)
}

// NewSupervisor creates a supervisor for engine
func NewSupervisor(engine Engine, policy *RecoveryPolicy, clk clock.WithDelayedExecution, logger zerolog.Logger) *Supervisor {
	if policy == nil {
		policy = DefaultRecoveryPolicy()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Supervisor{
		engine: engine,
		policy: policy,
		clock:  clk,
		logger: logger.With().Str("component", "capture").Logger(),
	}
}

// OnBlocked registers a callback for permission denials
func (s *Supervisor) OnBlocked(fn func(error)) {
	s.mu.Lock()
	s.onBlocked = fn
	s.mu.Unlock()
}

// Start begins capturing and delivers every fragment to onTranscript.
// Calling Start while capture is already wanted only replaces the callback.
// Start clears a previous permission block, since it follows a user action.
func (s *Supervisor) Start(ctx context.Context, onTranscript func(transcript.Fragment)) error {
	s.mu.Lock()
	s.onTranscript = onTranscript
	if s.desired {
		s.mu.Unlock()
		return nil
	}
	s.desired = true
	s.blocked = false
	s.ctx = ctx
	s.mu.Unlock()

	return s.startRun()
}

// Stop ends capture and cancels any pending restart. The engine is stopped
// even between a drop-out and its restart so it stops holding audio.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	wanted := s.desired || s.running
	s.desired = false
	s.run++
	s.stopRestartLocked()
	s.running = false
	s.mu.Unlock()

	if wanted {
		if err := s.engine.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop capture engine")
		}
	}
}

// Running reports whether an engine run is active
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Blocked reports whether capture stopped on a permission denial
func (s *Supervisor) Blocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

func (s *Supervisor) startRun() error {
	s.mu.Lock()
	if !s.desired || s.running {
		s.mu.Unlock()
		return nil
	}
	s.run++
	gen := s.run
	s.running = true
	ctx := s.ctx
	s.mu.Unlock()

	err := s.engine.Start(ctx, Handler{
		OnFragment: func(f transcript.Fragment) { s.handleFragment(gen, f) },
		OnEnded:    func() { s.handleEnded(gen) },
		OnError:    func(err error) { s.handleError(gen, err) },
	})
	if err != nil {
		s.handleError(gen, err)
		if ClassOf(err) == Permission {
			return err
		}
	}
	return nil
}

func (s *Supervisor) handleFragment(gen uint64, f transcript.Fragment) {
	s.mu.Lock()
	if gen != s.run || !s.desired {
		s.mu.Unlock()
		return
	}
	s.policy.OnResult()
	cb := s.onTranscript
	s.mu.Unlock()

	if cb != nil {
		cb(f)
	}
}

func (s *Supervisor) handleEnded(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.run {
		return
	}
	s.running = false
	s.run++
	if !s.desired {
		return
	}
	s.scheduleRestartLocked(s.policy.OnEnded())
}

func (s *Supervisor) handleError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.run {
		s.mu.Unlock()
		return
	}
	wasRunning := s.running
	s.running = false
	s.run++
	if !s.desired {
		s.mu.Unlock()
		return
	}

	// The failed run is already over; the engine keeps its audio for the restart
	decision := s.policy.OnError(err)
	if decision.Restart {
		s.logger.Warn().Err(err).Dur("delay", decision.Delay).Msg("Capture error, restarting")
		s.scheduleRestartLocked(decision)
		s.mu.Unlock()
		return
	}

	s.desired = false
	s.blocked = true
	cb := s.onBlocked
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("Capture blocked, waiting for user action")
	observability.RecordCaptureBlocked()
	if wasRunning {
		_ = s.engine.Stop()
	}
	if cb != nil {
		cb(err)
	}
}

// scheduleRestartLocked must be called with mu held
func (s *Supervisor) scheduleRestartLocked(d Decision) {
	s.stopRestartLocked()
	gen := s.run
	observability.RecordCaptureRestart(d.Reason)
	s.restart = s.clock.AfterFunc(d.Delay, func() {
		// The fake clock runs this while holding its own lock
		go s.restartIfCurrent(gen)
	})
}

func (s *Supervisor) stopRestartLocked() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}

func (s *Supervisor) restartIfCurrent(gen uint64) {
	s.mu.Lock()
	if gen != s.run || !s.desired || s.running {
		s.mu.Unlock()
		return
	}
	s.restart = nil
	s.mu.Unlock()

	if err := s.startRun(); err != nil {
		s.logger.Debug().Err(err).Msg("Capture restart failed")
	}
}
