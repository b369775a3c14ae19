// Package tts synthesizes question audio when the evaluator sends text only.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a synthesizer produced no audio
var ErrEmptyAudio = errors.New("synthesizer returned empty audio")

// Synthesizer converts question text to an encoded audio clip
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
