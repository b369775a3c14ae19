package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregator_InterimReplacedByFinal(t *testing.T) {
	a := NewAggregator()

	assert.True(t, a.Add(Fragment{Text: "I am"}))
	assert.Equal(t, "I am", a.Text())

	assert.True(t, a.Add(Fragment{Text: "I am a software"}))
	assert.Equal(t, "I am a software", a.Text())

	assert.True(t, a.Add(Fragment{Text: "I am a software engineer", Final: true}))
	assert.Equal(t, "I am a software engineer", a.Text())
	assert.Equal(t, "I am a software engineer", a.Final())
}

func TestAggregator_FinalsJoinedWithLatestInterim(t *testing.T) {
	a := NewAggregator()

	a.Add(Fragment{Text: "First sentence.", Final: true})
	a.Add(Fragment{Text: " second ", Final: false})

	assert.Equal(t, "First sentence. second", a.Text())
	assert.Equal(t, "First sentence.", a.Final())
}

func TestAggregator_IgnoresBlankAndRepeats(t *testing.T) {
	a := NewAggregator()

	assert.False(t, a.Add(Fragment{Text: "   "}))
	assert.True(t, a.Empty())

	assert.True(t, a.Add(Fragment{Text: "hello"}))
	assert.False(t, a.Add(Fragment{Text: "hello"}))
}

func TestAggregator_Reset(t *testing.T) {
	a := NewAggregator()
	a.Add(Fragment{Text: "hello", Final: true})
	a.Add(Fragment{Text: "world"})

	a.Reset()

	assert.True(t, a.Empty())
	assert.Equal(t, "", a.Text())
}
