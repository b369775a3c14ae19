// Package transcript accumulates speech fragments for one listening cycle.
package transcript

import (
	"strings"
	"sync"
)

// Fragment is one recognition result from a capture engine
type Fragment struct {
	Text  string
	Final bool
}

// Aggregator joins finalized fragments and keeps the latest interim one
// so the live text never loses what has already been confirmed.
type Aggregator struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

// NewAggregator returns an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records a fragment and reports whether the buffer text changed.
// Blank fragments are ignored.
func (a *Aggregator) Add(f Fragment) bool {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.textLocked()
	if f.Final {
		a.finals = append(a.finals, text)
		a.interim = ""
	} else {
		a.interim = text
	}
	return a.textLocked() != before
}

// Text returns the finalized speech followed by the latest interim fragment
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.textLocked()
}

// Final returns only the finalized speech
func (a *Aggregator) Final() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.finals, " ")
}

// Empty reports whether nothing has been heard since the last reset
func (a *Aggregator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.finals) == 0 && a.interim == ""
}

// Reset clears the buffer
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.finals = nil
	a.interim = ""
	a.mu.Unlock()
}

func (a *Aggregator) textLocked() string {
	joined := strings.Join(a.finals, " ")
	switch {
	case a.interim == "":
		return joined
	case joined == "":
		return a.interim
	}
	return joined + " " + a.interim
}
