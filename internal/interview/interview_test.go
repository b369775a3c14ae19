package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lexiqai/interview-gateway/internal/capture"
	"github.com/lexiqai/interview-gateway/internal/evaluation"
	"github.com/lexiqai/interview-gateway/internal/playback"
	"github.com/lexiqai/interview-gateway/internal/session"
	"github.com/lexiqai/interview-gateway/internal/transcript"
	"github.com/lexiqai/interview-gateway/internal/turn"
)

const (
	testSession = "sess_001"
	question1   = "Tell me about yourself."
	question2   = "Why this role?"
)

type evalFunc func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error)

type fakeEvaluator struct {
	mu      sync.Mutex
	reqs    []evaluation.Request
	respond evalFunc
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	respond := f.respond
	f.mu.Unlock()
	return respond(ctx, req)
}

func (f *fakeEvaluator) setRespond(fn evalFunc) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeEvaluator) requests() []evaluation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]evaluation.Request, len(f.reqs))
	copy(out, f.reqs)
	return out
}

// scripted returns question1 for the kickoff and question2 for every answer
func scripted(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
	if req.PriorQuestion == "" {
		return &evaluation.Result{NextQuestion: question1}, nil
	}
	return &evaluation.Result{NextQuestion: question2}, nil
}

type fakeCapture struct {
	mu           sync.Mutex
	starts       int
	stops        int
	running      bool
	startErr     error
	onTranscript func(transcript.Fragment)
	onBlocked    func(error)
}

func (f *fakeCapture) Start(ctx context.Context, onTranscript func(transcript.Fragment)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	f.onTranscript = onTranscript
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
}

func (f *fakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCapture) OnBlocked(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onBlocked = fn
}

func (f *fakeCapture) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// emit delivers a fragment the way a live capture run would
func (f *fakeCapture) emit(text string, final bool) {
	f.mu.Lock()
	fn := f.onTranscript
	f.mu.Unlock()
	if fn != nil {
		fn(transcript.Fragment{Text: text, Final: final})
	}
}

func (f *fakeCapture) block(err error) {
	f.mu.Lock()
	f.running = false
	fn := f.onBlocked
	f.mu.Unlock()
	fn(err)
}

type fakePlayer struct {
	mu    sync.Mutex
	clips []playback.Clip
	stops int
	gate  chan struct{}
	err   error
}

func (f *fakePlayer) Play(ctx context.Context, clip playback.Clip) error {
	f.mu.Lock()
	f.clips = append(f.clips, clip)
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakePlayer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakePlayer) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.clips {
		out = append(out, c.Text)
	}
	return out
}

type recorder struct {
	mu       sync.Mutex
	notices  []Notice
	outcomes []Outcome
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnNotice: func(n Notice) {
			r.mu.Lock()
			r.notices = append(r.notices, n)
			r.mu.Unlock()
		},
		OnFinished: func(o Outcome) {
			r.mu.Lock()
			r.outcomes = append(r.outcomes, o)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) lastNotice() Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}
	}
	return r.notices[len(r.notices)-1]
}

func (r *recorder) finished() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

type harness struct {
	iv      *Interview
	eval    *fakeEvaluator
	capture *fakeCapture
	player  *fakePlayer
	store   *session.MemoryStore
	clock   *clocktesting.FakeClock
	events  *recorder
}

func newHarness(t *testing.T, respond evalFunc) *harness {
	t.Helper()
	return newHarnessFor(t, respond, Info{SessionID: testSession, CandidateName: "John Doe"}, session.NewMemoryStore())
}

func newHarnessFor(t *testing.T, respond evalFunc, info Info, store *session.MemoryStore) *harness {
	t.Helper()
	h := &harness{
		eval:    &fakeEvaluator{respond: respond},
		capture: &fakeCapture{},
		player:  &fakePlayer{},
		store:   store,
		clock:   clocktesting.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		events:  &recorder{},
	}
	logger := zerolog.Nop()
	iv, err := New(info, DefaultConfig(), Dependencies{
		Evaluator: h.eval,
		Capture:   h.capture,
		Player:    h.player,
		Store:     h.store,
		Tokens:    evaluation.StaticToken("token"),
		Clock:     h.clock,
		Logger:    &logger,
	}, h.events.callbacks())
	require.NoError(t, err)
	h.iv = iv
	t.Cleanup(func() { iv.Close() })
	return h
}

func (h *harness) snapshot(t *testing.T) State {
	t.Helper()
	st, err := h.iv.Snapshot()
	require.NoError(t, err)
	return st
}

func (h *harness) waitFor(t *testing.T, cond func(State) bool, msg string) State {
	t.Helper()
	var st State
	require.Eventually(t, func() bool {
		s, err := h.iv.Snapshot()
		if err != nil {
			return false
		}
		st = s
		return cond(s)
	}, time.Second, time.Millisecond, msg)
	return st
}

func (h *harness) waitPhase(t *testing.T, phase turn.Phase) State {
	t.Helper()
	return h.waitFor(t, func(s State) bool { return s.Phase == phase && !s.AISpeaking }, "phase "+phase.String())
}

// startListening runs the kickoff and waits until the first answer is awaited
func (h *harness) startListening(t *testing.T) State {
	t.Helper()
	require.NoError(t, h.iv.Start())
	return h.waitPhase(t, turn.Recording)
}

// say emits a fragment and waits until the loop has handled it
func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	h.capture.emit(text, false)
	h.snapshot(t)
}

func TestInterview_KickoffAsksFirstQuestion(t *testing.T) {
	h := newHarness(t, scripted)

	st := h.startListening(t)

	reqs := h.eval.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, evaluation.Request{SessionID: testSession, Answer: DefaultConfig().KickoffPrompt}, reqs[0])

	assert.Equal(t, []string{question1}, h.player.played())
	require.Len(t, st.Messages, 1)
	assert.Equal(t, session.RoleInterviewer, st.Messages[0].Role)
	assert.Equal(t, question1, st.Messages[0].Content)
	assert.True(t, st.WaitingForResponse)
	assert.True(t, st.MicEnabled)
	assert.False(t, st.Initializing)
	assert.True(t, h.capture.Running())
}

func TestInterview_StartIsIdempotentWhileInitializing(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
		<-release
		return scripted(ctx, req)
	})

	require.NoError(t, h.iv.Start())
	require.NoError(t, h.iv.Start())
	assert.True(t, h.snapshot(t).Initializing)

	close(release)
	h.waitPhase(t, turn.Recording)
	require.NoError(t, h.iv.Start())

	assert.Len(t, h.eval.requests(), 1)
}

func TestInterview_KickoffFailureAllowsRetry(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
		return nil, errors.New("backend unavailable")
	})

	require.NoError(t, h.iv.Start())
	st := h.waitFor(t, func(s State) bool { return !s.Initializing }, "kickoff settles")

	assert.Equal(t, turn.Idle, st.Phase)
	assert.Empty(t, st.Messages)
	assert.Equal(t, Notice{Level: NoticeError, Text: msgStartFailed}, h.events.lastNotice())

	h.eval.setRespond(scripted)
	h.startListening(t)
	assert.Len(t, h.eval.requests(), 2)
}

func TestInterview_SilenceWindowDebounce(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)

	h.say(t, "I have")
	h.clock.Step(1000 * time.Millisecond)
	h.say(t, "I have five")
	h.clock.Step(800 * time.Millisecond)
	h.say(t, "I have five years")

	assert.Equal(t, "I have five years", h.snapshot(t).Transcript)

	// 4799ms after the first fragment: the window restarted at 1800ms
	h.clock.Step(2999 * time.Millisecond)
	h.snapshot(t)
	assert.Len(t, h.eval.requests(), 1)

	h.clock.Step(time.Millisecond)
	require.Eventually(t, func() bool { return len(h.eval.requests()) == 2 }, time.Second, time.Millisecond)

	req := h.eval.requests()[1]
	assert.Equal(t, question1, req.PriorQuestion)
	assert.Equal(t, "I have five years", req.Answer)

	st := h.waitPhase(t, turn.Recording)
	assert.Empty(t, st.Transcript)
	assert.Equal(t, []string{question1, question2}, h.player.played())
	require.Len(t, st.Messages, 3)
	assert.Equal(t, session.RoleCandidate, st.Messages[1].Role)
	assert.Equal(t, "I have five years", st.Messages[1].Content)
}

func TestInterview_FinalFragmentsAccumulate(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)

	h.capture.emit("I led a team", true)
	h.capture.emit("of four", false)

	assert.Equal(t, "I led a team of four", h.snapshot(t).Transcript)
}

func TestInterview_ManualSubmitCancelsDebounce(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)

	h.say(t, "my answer")
	require.True(t, h.clock.HasWaiters())

	require.NoError(t, h.iv.SubmitNow())
	assert.False(t, h.clock.HasWaiters())

	h.waitPhase(t, turn.Recording)
	h.clock.Step(10 * time.Second)
	h.snapshot(t)

	reqs := h.eval.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "my answer", reqs[1].Answer)
}

func TestInterview_SubmissionGuard(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
		if req.PriorQuestion != "" {
			<-release
		}
		return scripted(ctx, req)
	})
	h.startListening(t)

	require.NoError(t, h.iv.SubmitAnswer("first answer"))
	st := h.snapshot(t)
	assert.True(t, st.Submitting)
	assert.Equal(t, turn.Evaluating, st.Phase)
	assert.False(t, st.WaitingForResponse)

	require.NoError(t, h.iv.SubmitAnswer("second answer"))
	require.NoError(t, h.iv.SubmitNow())
	assert.Len(t, h.eval.requests(), 2)

	close(release)
	st = h.waitPhase(t, turn.Recording)
	assert.False(t, st.Submitting)

	candidate := 0
	for _, m := range st.Messages {
		if m.Role == session.RoleCandidate {
			candidate++
		}
	}
	assert.Equal(t, 1, candidate)
}

func TestInterview_SubmitIgnoresBlankAndIdle(t *testing.T) {
	h := newHarness(t, scripted)

	// Not yet waiting for an answer
	require.NoError(t, h.iv.SubmitAnswer("too early"))
	assert.Empty(t, h.eval.requests())

	h.startListening(t)
	require.NoError(t, h.iv.SubmitAnswer("   "))
	require.NoError(t, h.iv.SubmitNow())

	assert.Len(t, h.eval.requests(), 1)
	assert.Equal(t, turn.Recording, h.snapshot(t).Phase)
}

func TestInterview_StaleDebounceIsDiscarded(t *testing.T) {
	h := newHarness(t, scripted)
	st := h.startListening(t)
	stale := turn.Cycle(st.Cycle)

	require.NoError(t, h.iv.SubmitAnswer("answer one"))
	st = h.waitPhase(t, turn.Recording)
	require.Greater(t, st.Cycle, uint64(stale))

	h.say(t, "partial")
	require.NoError(t, h.iv.call(func() { h.iv.debounceFired(stale) }))

	assert.Len(t, h.eval.requests(), 2)
	assert.Equal(t, "partial", h.snapshot(t).Transcript)
}

func TestInterview_StaleFragmentIsDiscarded(t *testing.T) {
	h := newHarness(t, scripted)
	st := h.startListening(t)
	stale := turn.Cycle(st.Cycle)

	require.NoError(t, h.iv.SubmitAnswer("answer one"))
	h.waitPhase(t, turn.Recording)

	require.NoError(t, h.iv.call(func() {
		h.iv.handleFragment(stale, transcript.Fragment{Text: "echo of the question"})
	}))

	assert.Empty(t, h.snapshot(t).Transcript)
	assert.False(t, h.clock.HasWaiters())
}

func TestInterview_MicOffSuppressesSubmission(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)

	h.say(t, "half an answer")
	require.NoError(t, h.iv.ToggleMic(false))

	st := h.snapshot(t)
	assert.Equal(t, turn.Idle, st.Phase)
	assert.Empty(t, st.Transcript)
	assert.False(t, st.MicEnabled)
	assert.True(t, st.WaitingForResponse)
	assert.False(t, h.capture.Running())
	assert.False(t, h.clock.HasWaiters())

	h.clock.Step(10 * time.Second)
	require.NoError(t, h.iv.SubmitAnswer("typed while muted"))
	assert.Len(t, h.eval.requests(), 1)

	require.NoError(t, h.iv.ToggleMic(true))
	st = h.snapshot(t)
	assert.Equal(t, turn.Recording, st.Phase)
	assert.True(t, h.capture.Running())
}

func TestInterview_MicOffDuringPlayback(t *testing.T) {
	h := newHarness(t, scripted)
	h.player.gate = make(chan struct{})

	require.NoError(t, h.iv.Start())
	h.waitFor(t, func(s State) bool { return s.AISpeaking }, "question playing")
	require.NoError(t, h.iv.ToggleMic(false))
	assert.Equal(t, turn.PlayingQuestion, h.snapshot(t).Phase)

	close(h.player.gate)
	st := h.waitFor(t, func(s State) bool { return !s.AISpeaking }, "playback done")
	assert.Equal(t, turn.Idle, st.Phase)
	assert.True(t, st.WaitingForResponse)
	assert.False(t, h.capture.Running())

	require.NoError(t, h.iv.ToggleMic(true))
	assert.Equal(t, turn.Recording, h.snapshot(t).Phase)
}

func TestInterview_PlaybackStopsCapture(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)
	h.player.mu.Lock()
	h.player.gate = make(chan struct{})
	h.player.mu.Unlock()

	require.NoError(t, h.iv.SubmitAnswer("answer"))
	h.waitFor(t, func(s State) bool { return s.AISpeaking }, "question playing")

	assert.False(t, h.capture.Running())
	h.capture.emit("the interviewer's own voice", false)
	assert.Empty(t, h.snapshot(t).Transcript)

	close(h.player.gate)
	h.waitPhase(t, turn.Recording)
	assert.True(t, h.capture.Running())
}

func TestInterview_PlaybackFailureCountsAsDone(t *testing.T) {
	h := newHarness(t, scripted)
	h.player.err = playback.ErrTimeout

	st := h.startListening(t)
	assert.True(t, st.WaitingForResponse)
}

func TestInterview_EvaluationFailureReturnsToListening(t *testing.T) {
	h := newHarness(t, scripted)
	st := h.startListening(t)
	before := st.Cycle

	h.eval.setRespond(func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
		return nil, errors.New("evaluation backend returned 500")
	})
	require.NoError(t, h.iv.SubmitAnswer("my answer"))

	st = h.waitFor(t, func(s State) bool { return s.Phase == turn.Recording && !s.Submitting }, "back to listening")
	assert.True(t, st.WaitingForResponse)
	assert.Greater(t, st.Cycle, before)
	assert.Equal(t, Notice{Level: NoticeError, Text: msgEvalFailed}, h.events.lastNotice())
	assert.True(t, h.capture.Running())

	// The same question is answered again
	h.eval.setRespond(scripted)
	require.NoError(t, h.iv.SubmitAnswer("my second try"))
	h.waitFor(t, func(s State) bool { return len(s.Messages) == 4 }, "next question")
	assert.Equal(t, question1, h.eval.requests()[2].PriorQuestion)
}

func TestInterview_EvaluationFailureWithMicOff(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, scripted)
	h.startListening(t)

	h.eval.setRespond(func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
		<-release
		return nil, evaluation.ErrUnauthenticated
	})
	require.NoError(t, h.iv.SubmitAnswer("my answer"))
	require.NoError(t, h.iv.ToggleMic(false))
	close(release)

	st := h.waitFor(t, func(s State) bool { return !s.Submitting }, "evaluation settles")
	assert.Equal(t, turn.Idle, st.Phase)
	assert.True(t, st.WaitingForResponse)
	assert.Equal(t, Notice{Level: NoticeError, Text: msgSessionExpired}, h.events.lastNotice())

	require.NoError(t, h.iv.ToggleMic(true))
	assert.Equal(t, turn.Recording, h.snapshot(t).Phase)
}

func TestInterview_EmptyResultIsAFailure(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)

	h.eval.setRespond(func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
		return &evaluation.Result{}, nil
	})
	require.NoError(t, h.iv.SubmitAnswer("my answer"))

	st := h.waitFor(t, func(s State) bool { return !s.Submitting && s.Phase == turn.Recording }, "back to listening")
	assert.Len(t, st.Messages, 2)
	assert.Equal(t, NoticeError, h.events.lastNotice().Level)
}

func TestInterview_CompletesAndFinishesAfterDelay(t *testing.T) {
	static := evaluation.NewStaticEvaluator([]string{question1, question2}, "Goodbye.")
	h := newHarness(t, static.Evaluate)

	h.startListening(t)
	require.NoError(t, h.iv.SubmitAnswer("first answer"))
	h.waitFor(t, func(s State) bool { return s.Phase == turn.Recording && len(s.Messages) == 3 }, "second question")
	require.NoError(t, h.iv.SubmitAnswer("second answer"))

	st := h.waitFor(t, func(s State) bool { return s.Completed }, "completion")
	assert.Equal(t, turn.Idle, st.Phase)
	assert.Equal(t, session.StatusCompleted, st.Status)
	assert.False(t, st.WaitingForResponse)
	assert.NotEmpty(t, st.Feedback)
	require.NotNil(t, st.Score)
	assert.Equal(t, []string{question1, question2, "Goodbye."}, h.player.played())
	assert.Equal(t, Notice{Level: NoticeSuccess, Text: msgComplete}, h.events.lastNotice())
	assert.False(t, h.capture.Running())

	assert.Empty(t, h.events.finished())
	h.clock.Step(1499 * time.Millisecond)
	h.snapshot(t)
	assert.Empty(t, h.events.finished())

	h.clock.Step(time.Millisecond)
	require.Eventually(t, func() bool { return len(h.events.finished()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, OutcomeCompleted, h.events.finished()[0])

	// Nothing is accepted after completion
	require.NoError(t, h.iv.SubmitAnswer("late"))
	require.NoError(t, h.iv.Start())
	assert.Len(t, h.eval.requests(), 3)

	require.NoError(t, h.iv.Close())
	stored, err := h.store.Get(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, stored.Status)
	assert.Equal(t, st.Feedback, stored.Feedback)

	messages, err := h.store.Messages(context.Background(), testSession)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	assert.Equal(t, "Goodbye.", messages[4].Content)
}

func TestInterview_EndStopsEverything(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)
	h.say(t, "something")
	require.True(t, h.clock.HasWaiters())

	require.NoError(t, h.iv.End())

	st := h.snapshot(t)
	assert.Equal(t, turn.Idle, st.Phase)
	assert.False(t, st.WaitingForResponse)
	assert.Empty(t, st.Transcript)
	assert.False(t, h.capture.Running())
	assert.False(t, h.clock.HasWaiters())
	assert.Equal(t, 1, h.player.stops)
	assert.Equal(t, []Outcome{OutcomeEnded}, h.events.finished())

	assert.ErrorIs(t, h.iv.Start(), ErrEnded)
	require.NoError(t, h.iv.SubmitAnswer("after end"))
	require.NoError(t, h.iv.End())
	assert.Len(t, h.eval.requests(), 1)
	assert.Len(t, h.events.finished(), 1)

	require.NoError(t, h.iv.Close())
	stored, err := h.store.Get(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPaused, stored.Status)
}

func TestInterview_EndDiscardsInFlightEvaluation(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, scripted)
	h.startListening(t)

	h.eval.setRespond(func(ctx context.Context, req evaluation.Request) (*evaluation.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &evaluation.Result{NextQuestion: question2}, nil
	})
	require.NoError(t, h.iv.SubmitAnswer("answer"))
	require.NoError(t, h.iv.End())
	close(release)

	// Give the discarded reply a chance to reach the loop
	time.Sleep(10 * time.Millisecond)
	st := h.snapshot(t)
	assert.Equal(t, turn.Idle, st.Phase)
	assert.False(t, st.Submitting)
	assert.Equal(t, []string{question1}, h.player.played())
}

func TestInterview_PermissionDenialBlocksMic(t *testing.T) {
	h := newHarness(t, scripted)
	h.capture.setStartErr(capture.NewError(capture.CodeNotAllowed, "denied"))

	require.NoError(t, h.iv.Start())
	st := h.waitFor(t, func(s State) bool { return s.MicBlocked }, "mic blocked")
	assert.Equal(t, turn.Idle, st.Phase)
	assert.False(t, st.MicEnabled)
	assert.True(t, st.WaitingForResponse)
	assert.Equal(t, Notice{Level: NoticeError, Text: msgMicBlocked}, h.events.lastNotice())

	h.capture.setStartErr(nil)
	require.NoError(t, h.iv.ToggleMic(true))
	st = h.snapshot(t)
	assert.Equal(t, turn.Recording, st.Phase)
	assert.False(t, st.MicBlocked)
	assert.True(t, h.capture.Running())
}

func TestInterview_AsyncPermissionDenial(t *testing.T) {
	h := newHarness(t, scripted)
	h.startListening(t)
	h.say(t, "hello")

	h.capture.block(capture.NewError(capture.CodeServiceNotAllowed, ""))

	st := h.waitFor(t, func(s State) bool { return s.MicBlocked }, "mic blocked")
	assert.Equal(t, turn.Idle, st.Phase)
	assert.Empty(t, st.Transcript)
	assert.False(t, h.clock.HasWaiters())
}

// storedSession seeds store with a paused session that has asked question1 and heard one answer
func storedSession(t *testing.T, store *session.MemoryStore, startedAt time.Time) (*session.Session, []session.Message) {
	t.Helper()
	ctx := context.Background()
	existing := &session.Session{ID: testSession, CandidateName: "John Doe", StartedAt: startedAt, Status: session.StatusPaused}
	require.NoError(t, store.Save(ctx, existing))
	for _, m := range []session.Message{
		session.NewMessage(session.RoleInterviewer, question1),
		session.NewMessage(session.RoleCandidate, "I build data pipelines."),
	} {
		require.NoError(t, store.Append(ctx, testSession, m))
	}
	history, err := store.Messages(ctx, testSession)
	require.NoError(t, err)
	return existing, history
}

func TestInterview_ResumeAsksOpenQuestionAgain(t *testing.T) {
	store := session.NewMemoryStore()
	startedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	existing, history := storedSession(t, store, startedAt)

	h := newHarnessFor(t, scripted, Info{
		SessionID:     testSession,
		CandidateName: "John Doe",
		Existing:      existing,
		History:       history,
	}, store)

	st := h.startListening(t)

	assert.Empty(t, h.eval.requests(), "no kickoff on resume")
	assert.Equal(t, []string{question1}, h.player.played())
	assert.Len(t, st.Messages, 2)
	assert.Equal(t, session.StatusActive, st.Status)

	// The next answer continues from the open question
	h.say(t, "Mostly streaming systems.")
	require.NoError(t, h.iv.SubmitNow())
	h.waitPhase(t, turn.Recording)
	reqs := h.eval.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, question1, reqs[0].PriorQuestion)

	require.NoError(t, h.iv.Close())
	stored, err := store.Get(context.Background(), testSession)
	require.NoError(t, err)
	assert.True(t, stored.StartedAt.Equal(startedAt), "start time is kept")
	messages, err := store.Messages(context.Background(), testSession)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestInterview_ResumedCompletedSessionDoesNotRestart(t *testing.T) {
	store := session.NewMemoryStore()
	existing, history := storedSession(t, store, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	existing.Status = session.StatusCompleted

	h := newHarnessFor(t, scripted, Info{SessionID: testSession, Existing: existing, History: history}, store)

	require.NoError(t, h.iv.Start())
	st := h.snapshot(t)
	assert.True(t, st.Completed)
	assert.Equal(t, turn.Idle, st.Phase)
	assert.Empty(t, h.eval.requests())
	assert.Empty(t, h.player.played())
}

func TestInterview_ClosedRejectsActions(t *testing.T) {
	h := newHarness(t, scripted)
	require.NoError(t, h.iv.Close())
	require.NoError(t, h.iv.Close())

	assert.ErrorIs(t, h.iv.Start(), ErrClosed)
	_, err := h.iv.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Info{}, DefaultConfig(), Dependencies{}, Callbacks{})
	assert.ErrorIs(t, err, session.ErrInvalidID)

	_, err = New(Info{SessionID: testSession}, DefaultConfig(), Dependencies{}, Callbacks{})
	assert.Error(t, err)
}
