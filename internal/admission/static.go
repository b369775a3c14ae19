package admission

import (
	"context"
	"fmt"
)

// Seat is the session and candidate a passcode admits
type Seat struct {
	SessionID     string
	CandidateName string
}

// DemoPasscodes are accepted by the static admitter when no list is configured
var DemoPasscodes = map[string]Seat{
	"DEMO123":   {SessionID: "sess_001", CandidateName: "John Doe"},
	"TEST456":   {SessionID: "sess_002", CandidateName: "Jane Smith"},
	"INTERVIEW": {SessionID: "sess_003", CandidateName: "Alex Johnson"},
}

// StaticAdmitter admits a fixed set of passcodes and signs its own tokens
type StaticAdmitter struct {
	seats  map[string]Seat
	signer *Signer
}

// NewStaticAdmitter creates an admitter. A nil seat map uses DemoPasscodes.
func NewStaticAdmitter(seats map[string]Seat, signer *Signer) *StaticAdmitter {
	if seats == nil {
		seats = DemoPasscodes
	}
	return &StaticAdmitter{seats: seats, signer: signer}
}

// Admit checks passcode and, when sessionID is set, that it names the passcode's session
func (a *StaticAdmitter) Admit(ctx context.Context, sessionID, passcode string) (*Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seat, ok := a.seats[passcode]
	if !ok || (sessionID != "" && sessionID != seat.SessionID) {
		return nil, ErrInvalidPasscode
	}

	token, expires, err := a.signer.Issue(seat.SessionID, seat.CandidateName)
	if err != nil {
		return nil, fmt.Errorf("failed to admit %s: %w", seat.SessionID, err)
	}

	return &Grant{
		SessionID:     seat.SessionID,
		CandidateName: seat.CandidateName,
		AccessToken:   token,
		ExpiresAt:     expires,
		now:           a.signer.now,
	}, nil
}
