package interview

import (
	"context"
	"errors"
	"strings"

	"github.com/lexiqai/interview-gateway/internal/capture"
	"github.com/lexiqai/interview-gateway/internal/evaluation"
	"github.com/lexiqai/interview-gateway/internal/playback"
	"github.com/lexiqai/interview-gateway/internal/session"
	"github.com/lexiqai/interview-gateway/internal/transcript"
	"github.com/lexiqai/interview-gateway/internal/turn"
)

const (
	triggerDebounce = "debounce"
	triggerManual   = "manual"
)

const (
	msgStartFailed    = "Failed to start the interview. Please try again."
	msgEvalFailed     = "We couldn't process your answer. Please try again."
	msgSessionExpired = "Your session has expired. Please rejoin the interview."
	msgMicBlocked     = "Microphone access was denied. Allow access and turn the microphone back on."
	msgComplete       = "Interview complete. Thank you for your time!"
	msgMicOff         = "Microphone off. Turn it back on when you are ready to answer."
	msgMicOn          = "Microphone on."
)

func (iv *Interview) transition(to turn.Phase) bool {
	from, err := iv.machine.Transition(to)
	if err != nil {
		iv.logger.Error().Err(err).Msg("Rejected phase transition")
		iv.metrics.RecordError("illegal_transition", "interview")
		return false
	}
	if from != to {
		iv.logger.Debug().
			Str("from", from.String()).
			Str("to", to.String()).
			Uint64("cycle", uint64(iv.machine.Cycle())).
			Msg("Phase transition")
		iv.metrics.RecordTransition(from.String(), to.String())
	}
	return true
}

func (iv *Interview) appendMessage(role session.Role, content string) {
	msg := session.NewMessage(role, content)
	msg.CreatedAt = iv.clock.Now().UTC()
	iv.messages = append(iv.messages, msg)
	iv.persister.append(msg)
}

// start issues the kickoff evaluation that yields the first question
func (iv *Interview) start() error {
	switch {
	case iv.ended:
		return ErrEnded
	case iv.initializing, iv.initialized, iv.completed:
		return nil
	}

	if !iv.counted {
		iv.counted = true
		iv.session.Status = session.StatusActive
		iv.metrics.RecordInterviewStart()
		iv.persister.save(iv.session)
	}

	if iv.resumed {
		// Ask the open question again instead of starting over
		iv.initialized = true
		iv.logger.Info().Int("messages", len(iv.messages)).Msg("Resuming interview")
		iv.play(playback.Clip{Text: iv.currentQuestion}, func() {
			iv.resumeListening()
			iv.publish()
		})
		return nil
	}

	iv.initializing = true
	iv.logger.Info().Msg("Starting interview")

	iv.evaluate(evaluation.Request{
		SessionID: iv.session.ID,
		Answer:    iv.cfg.KickoffPrompt,
	}, iv.handleKickoff)
	iv.publish()
	return nil
}

func (iv *Interview) handleKickoff(res *evaluation.Result, err error) {
	iv.initializing = false
	if iv.ended {
		return
	}
	if err != nil {
		iv.logger.Warn().Err(err).Msg("Failed to fetch the first question")
		iv.notifyFailure(err, msgStartFailed)
		iv.publish()
		return
	}
	iv.initialized = true
	iv.applyResult(res)
}

// evaluate runs req off the loop and posts the reply to then
func (iv *Interview) evaluate(req evaluation.Request, then func(*evaluation.Result, error)) {
	ctx, cancel := context.WithCancel(iv.ctx)
	iv.evalCancel = cancel
	iv.metrics.RecordEvaluationStart()

	go func() {
		res, err := iv.evaluator.Evaluate(ctx, req)
		if err == nil {
			err = res.Validate()
		}
		iv.enqueue(func() {
			cancel()
			iv.evalCancel = nil
			iv.metrics.RecordEvaluationEnd(err == nil)
			then(res, err)
		})
	}()
}

// submit commits answer for evaluation. At most one submission is in flight,
// and only while the candidate is being listened to.
func (iv *Interview) submit(answer, trigger string) {
	text := strings.TrimSpace(answer)
	if text == "" || iv.submitting || iv.ended || !iv.waiting || !iv.micEnabled {
		return
	}
	if !iv.transition(turn.Evaluating) {
		return
	}

	iv.submitting = true
	iv.machine.Advance()
	iv.stopDebounce()
	iv.capture.Stop()
	iv.buffer.Reset()
	iv.waiting = false

	iv.appendMessage(session.RoleCandidate, text)
	iv.metrics.RecordSubmission(trigger)
	iv.logger.Info().Str("trigger", trigger).Int("chars", len(text)).Msg("Answer submitted")

	iv.evaluate(evaluation.Request{
		SessionID:     iv.session.ID,
		PriorQuestion: iv.currentQuestion,
		Answer:        text,
	}, iv.handleEvaluation)
	iv.publish()
}

func (iv *Interview) handleEvaluation(res *evaluation.Result, err error) {
	// The guard is released however the evaluation settled
	iv.submitting = false
	if iv.ended {
		return
	}
	if err != nil {
		iv.logger.Warn().Err(err).Msg("Evaluation failed")
		iv.metrics.RecordError("evaluation", "interview")
		iv.notifyFailure(err, msgEvalFailed)
		// Same question, another attempt
		iv.resumeListening()
		iv.publish()
		return
	}
	iv.applyResult(res)
}

func (iv *Interview) notifyFailure(err error, text string) {
	if errors.Is(err, evaluation.ErrUnauthenticated) {
		text = msgSessionExpired
	}
	iv.notify(NoticeError, text)
}

// applyResult moves to the next question or completes the interview
func (iv *Interview) applyResult(res *evaluation.Result) {
	if res.Feedback != "" {
		iv.feedback = res.Feedback
		iv.notify(NoticeInfo, res.Feedback)
	}
	if res.Score != nil {
		v := *res.Score
		iv.score = &v
		iv.metrics.RecordScore(v)
	}

	next := strings.TrimSpace(res.NextQuestion)
	if res.Complete {
		if next == "" {
			iv.complete()
			return
		}
		iv.appendMessage(session.RoleInterviewer, next)
		iv.play(playback.Clip{Text: next, Audio: res.Audio}, iv.complete)
		return
	}

	iv.currentQuestion = next
	iv.appendMessage(session.RoleInterviewer, next)
	iv.play(playback.Clip{Text: next, Audio: res.Audio}, func() {
		iv.resumeListening()
		iv.publish()
	})
}

// play speaks clip with capture paused, then runs then on the loop.
// Playback failures count as done.
func (iv *Interview) play(clip playback.Clip, then func()) {
	iv.stopDebounce()
	iv.capture.Stop()
	iv.waiting = false
	if !iv.transition(turn.PlayingQuestion) {
		return
	}
	iv.aiSpeaking = true
	iv.playGen++
	gen := iv.playGen

	ctx, cancel := context.WithCancel(iv.ctx)
	iv.playCancel = cancel

	go func() {
		err := iv.player.Play(ctx, clip)
		iv.enqueue(func() {
			cancel()
			if gen != iv.playGen || iv.ended {
				return
			}
			iv.playCancel = nil
			iv.aiSpeaking = false
			iv.metrics.RecordPlayback(err == nil)
			if err != nil {
				iv.logger.Warn().Err(err).Msg("Question playback failed, continuing")
			}
			then()
		})
	}()
	iv.publish()
}

// resumeListening waits for the candidate's answer, listening if the mic is on
func (iv *Interview) resumeListening() {
	iv.waiting = true
	if iv.micEnabled {
		iv.enterRecording()
		return
	}
	iv.transition(turn.Idle)
}

func (iv *Interview) enterRecording() {
	iv.stopDebounce()
	if !iv.transition(turn.Recording) {
		return
	}
	iv.buffer.Reset()
	iv.waiting = true

	cycle := iv.machine.Cycle()
	err := iv.capture.Start(iv.ctx, func(f transcript.Fragment) {
		iv.enqueue(func() { iv.handleFragment(cycle, f) })
	})
	if err == nil {
		return
	}
	if errors.Is(err, capture.ErrPermissionDenied) {
		iv.captureBlocked(err)
		return
	}
	iv.logger.Warn().Err(err).Msg("Failed to start capture")
	iv.metrics.RecordError("capture_start", "interview")
}

func (iv *Interview) listening() bool {
	return iv.machine.Phase() == turn.Recording && iv.waiting && iv.micEnabled && !iv.submitting && !iv.ended
}

// handleFragment folds speech into the buffer and re-arms the silence timer
func (iv *Interview) handleFragment(cycle turn.Cycle, f transcript.Fragment) {
	if !iv.machine.Valid(cycle) || !iv.listening() {
		iv.metrics.RecordStale("fragment")
		return
	}
	if strings.TrimSpace(f.Text) == "" {
		return
	}
	changed := iv.buffer.Add(f)
	iv.armDebounce(cycle)
	if changed {
		iv.publish()
	}
}

func (iv *Interview) armDebounce(cycle turn.Cycle) {
	iv.stopDebounce()
	iv.debounce = iv.clock.AfterFunc(iv.cfg.SilenceWindow, func() {
		go iv.enqueue(func() { iv.debounceFired(cycle) })
	})
}

func (iv *Interview) stopDebounce() {
	if iv.debounce != nil {
		iv.debounce.Stop()
		iv.debounce = nil
	}
}

func (iv *Interview) debounceFired(cycle turn.Cycle) {
	if !iv.machine.Valid(cycle) || !iv.listening() {
		iv.metrics.RecordStale("debounce")
		return
	}
	iv.debounce = nil
	iv.submit(iv.buffer.Text(), triggerDebounce)
}

func (iv *Interview) toggleMic(enabled bool) {
	if iv.ended {
		return
	}
	if enabled == iv.micEnabled && !(enabled && iv.micBlocked) {
		return
	}

	if !enabled {
		iv.micEnabled = false
		iv.stopDebounce()
		iv.capture.Stop()
		iv.buffer.Reset()
		if iv.machine.Phase() == turn.Recording {
			iv.transition(turn.Idle)
		}
		iv.logger.Info().Msg("Microphone disabled")
		iv.notify(NoticeInfo, msgMicOff)
		iv.publish()
		return
	}

	iv.micEnabled = true
	iv.micBlocked = false
	iv.logger.Info().Msg("Microphone enabled")
	iv.notify(NoticeInfo, msgMicOn)
	if iv.waiting && !iv.aiSpeaking && !iv.submitting && iv.machine.Phase() == turn.Idle {
		iv.enterRecording()
	}
	iv.publish()
}

// captureBlocked treats a permission denial as the mic being switched off
func (iv *Interview) captureBlocked(err error) {
	if iv.ended || iv.micBlocked {
		return
	}
	iv.logger.Warn().Err(err).Msg("Microphone permission denied")
	iv.micBlocked = true
	iv.micEnabled = false
	iv.stopDebounce()
	iv.buffer.Reset()
	if iv.machine.Phase() == turn.Recording {
		iv.transition(turn.Idle)
	}
	iv.notify(NoticeError, msgMicBlocked)
	iv.publish()
}

func (iv *Interview) complete() {
	if iv.completed {
		return
	}
	iv.completed = true
	iv.waiting = false
	iv.stopDebounce()
	iv.capture.Stop()
	iv.machine.Advance()
	iv.transition(turn.Idle)

	iv.session.Status = session.StatusCompleted
	iv.session.Feedback = iv.feedback
	iv.session.Score = iv.score
	iv.persister.complete(iv.feedback, iv.score)
	iv.metrics.RecordInterviewEnd(string(OutcomeCompleted))

	iv.logger.Info().Msg("Interview complete")
	iv.notify(NoticeSuccess, msgComplete)
	iv.publish()

	iv.completion = iv.clock.AfterFunc(iv.cfg.CompletionDelay, func() {
		go iv.enqueue(func() { iv.finish(OutcomeCompleted) })
	})
}

// end stops all activity. Replies and timers still in flight are discarded.
func (iv *Interview) end() {
	if iv.ended {
		return
	}
	iv.ended = true
	iv.stopDebounce()
	if iv.completion != nil {
		iv.completion.Stop()
		iv.completion = nil
	}
	if iv.evalCancel != nil {
		iv.evalCancel()
		iv.evalCancel = nil
	}
	if iv.playCancel != nil {
		iv.playCancel()
		iv.playCancel = nil
	}
	iv.playGen++
	iv.player.Stop()
	iv.capture.Stop()

	iv.submitting = false
	iv.waiting = false
	iv.aiSpeaking = false
	iv.initializing = false
	iv.buffer.Reset()
	iv.machine.Advance()
	iv.transition(turn.Idle)

	if iv.completed {
		iv.finish(OutcomeCompleted)
		return
	}
	if iv.counted {
		iv.session.Status = session.StatusPaused
		iv.persister.save(iv.session)
		iv.metrics.RecordInterviewEnd(string(OutcomeEnded))
	}
	iv.logger.Info().Msg("Interview ended by candidate")
	iv.publish()
	iv.finish(OutcomeEnded)
}
