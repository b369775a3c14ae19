package capture

import (
	"time"

	"github.com/lexiqai/interview-gateway/internal/resilience"
)

// Decision tells the supervisor what to do after a run stops on its own
type Decision struct {
	Restart bool
	Delay   time.Duration
	Reason  string
}

// RecoveryPolicy decides whether and when to restart capture.
// It is not safe for concurrent use; the Supervisor serializes access.
type RecoveryPolicy struct {
	restartDelay time.Duration
	backoff      *resilience.Backoff
}

// NewRecoveryPolicy returns a policy that restarts after restartDelay when the
// engine ends, and backs off from floor up to ceiling on transient errors.
func NewRecoveryPolicy(restartDelay, floor, ceiling time.Duration) *RecoveryPolicy {
	return &RecoveryPolicy{
		restartDelay: restartDelay,
		backoff:      resilience.NewBackoff(floor, ceiling),
	}
}

// DefaultRecoveryPolicy uses 200ms after an end and 300ms..5s after errors
func DefaultRecoveryPolicy() *RecoveryPolicy {
	return NewRecoveryPolicy(200*time.Millisecond, 300*time.Millisecond, 5*time.Second)
}

// OnEnded handles an engine-imposed end of a run
func (p *RecoveryPolicy) OnEnded() Decision {
	return Decision{Restart: true, Delay: p.restartDelay, Reason: "ended"}
}

// OnError handles a failed run
func (p *RecoveryPolicy) OnError(err error) Decision {
	if ClassOf(err) == Permission {
		return Decision{Restart: false, Reason: Permission.String()}
	}
	return Decision{Restart: true, Delay: p.backoff.Next(), Reason: Transient.String()}
}

// OnResult resets the backoff after a successful fragment
func (p *RecoveryPolicy) OnResult() {
	p.backoff.Reset()
}

// NextErrorDelay returns the delay the next transient error would get
func (p *RecoveryPolicy) NextErrorDelay() time.Duration {
	return p.backoff.Peek()
}
