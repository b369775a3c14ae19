// Package turn holds the turn phase machine and the cycle generation counter.
// Neither type is safe for concurrent use; both belong to one interview loop.
package turn

// Phase is the current step of a question-answer exchange
type Phase int

const (
	// Idle is the initial and resting phase
	Idle Phase = iota
	// PlayingQuestion is active while interviewer audio plays
	PlayingQuestion
	// Recording is active while the candidate's answer is being captured
	Recording
	// ProcessingSpeech is reserved for an explicit recognition finalization delay
	ProcessingSpeech
	// Evaluating is active while a committed answer is with the backend
	Evaluating
)

// String returns the wire name of the phase
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case PlayingQuestion:
		return "playing_question"
	case Recording:
		return "recording"
	case ProcessingSpeech:
		return "processing_speech"
	case Evaluating:
		return "evaluating"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
