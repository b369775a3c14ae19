package interview

import (
	"github.com/lexiqai/interview-gateway/internal/session"
	"github.com/lexiqai/interview-gateway/internal/turn"
)

// NoticeLevel is the severity of a user-facing notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a short message for the candidate
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

// Outcome is how an interview finished
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeEnded     Outcome = "ended"
)

// State is a point-in-time view of the interview for the candidate's UI
type State struct {
	SessionID          string            `json:"sessionId"`
	CandidateName      string            `json:"candidateName"`
	Status             session.Status    `json:"status"`
	Phase              turn.Phase        `json:"phase"`
	Cycle              uint64            `json:"cycle"`
	Messages           []session.Message `json:"messages"`
	Transcript         string            `json:"transcript"`
	WaitingForResponse bool              `json:"waitingForResponse"`
	MicEnabled         bool              `json:"micEnabled"`
	MicBlocked         bool              `json:"micBlocked"`
	AISpeaking         bool              `json:"aiSpeaking"`
	Submitting         bool              `json:"submitting"`
	Initializing       bool              `json:"initializing"`
	Completed          bool              `json:"completed"`
	Feedback           string            `json:"feedback,omitempty"`
	Score              *float64          `json:"score,omitempty"`
}

func (iv *Interview) state() State {
	messages := make([]session.Message, len(iv.messages))
	copy(messages, iv.messages)

	var score *float64
	if iv.score != nil {
		v := *iv.score
		score = &v
	}

	return State{
		SessionID:          iv.session.ID,
		CandidateName:      iv.session.CandidateName,
		Status:             iv.session.Status,
		Phase:              iv.machine.Phase(),
		Cycle:              uint64(iv.machine.Cycle()),
		Messages:           messages,
		Transcript:         iv.buffer.Text(),
		WaitingForResponse: iv.waiting,
		MicEnabled:         iv.micEnabled,
		MicBlocked:         iv.micBlocked,
		AISpeaking:         iv.aiSpeaking,
		Submitting:         iv.submitting,
		Initializing:       iv.initializing,
		Completed:          iv.completed,
		Feedback:           iv.feedback,
		Score:              score,
	}
}

func (iv *Interview) publish() {
	if iv.callbacks.OnState != nil {
		iv.callbacks.OnState(iv.state())
	}
}

func (iv *Interview) notify(level NoticeLevel, text string) {
	if iv.callbacks.OnNotice != nil {
		iv.callbacks.OnNotice(Notice{Level: level, Text: text})
	}
}

func (iv *Interview) finish(outcome Outcome) {
	if iv.finished {
		return
	}
	iv.finished = true
	iv.logger.Info().Str("outcome", string(outcome)).Msg("Interview finished")
	if iv.callbacks.OnFinished != nil {
		iv.callbacks.OnFinished(outcome)
	}
}
