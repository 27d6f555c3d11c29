package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	v1 "github.com/jpatrickfarrell/jat-sub014/pkg/jat/v1"
)

func TestClassifyRecentSignalWins(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	sig := &v1.Signal{Kind: v1.SignalWorking, Timestamp: now.Add(-10 * time.Second)}

	state := c.Classify(now, sig, nil, []string{"⎿ Do you want to proceed? (yes/no)"})
	assert.Equal(t, v1.StateWorking, state)
}

func TestClassifyFallsBackAfterDecay(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	sig := &v1.Signal{Kind: v1.SignalWorking, Timestamp: now.Add(-61 * time.Second)}

	state := c.Classify(now, sig, nil, []string{"⎿ Do you want to proceed with the deployment? (yes/no)"})
	assert.Equal(t, v1.StateNeedsInput, state)
}

func TestClassifyNoEvidenceDefaultsIdle(t *testing.T) {
	c := New(DefaultConfig())
	state := c.Classify(time.Now(), nil, nil, nil)
	assert.Equal(t, v1.StateIdle, state)
}

func TestClassifyTieBreakPrefersNeedsInputOverWorking(t *testing.T) {
	cfg := Config{
		DecaySeconds: 60,
		Indicators: []Indicator{
			{State: v1.StateNeedsInput, Weight: 1, Regex: DefaultIndicators()[0].Regex},
			{State: v1.StateWorking, Weight: 1, Regex: DefaultIndicators()[3].Regex},
		},
	}
	c := New(cfg)
	state := c.Classify(time.Now(), nil, []string{"running tests, do you want to proceed?"}, nil)
	assert.Equal(t, v1.StateNeedsInput, state)
}
