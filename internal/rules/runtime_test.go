package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeStateCooldown(t *testing.T) {
	rs := NewRuntimeState()
	now := time.Now()

	assert.True(t, rs.Allow("r1", "s1", now, 30, 0))
	rs.RecordTrigger("r1", "s1", now)

	assert.False(t, rs.Allow("r1", "s1", now.Add(10*time.Second), 30, 0))
	assert.True(t, rs.Allow("r1", "s1", now.Add(31*time.Second), 30, 0))
}

func TestRuntimeStateMaxTriggers(t *testing.T) {
	rs := NewRuntimeState()
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, rs.Allow("r1", "s1", now, 0, 3))
		rs.RecordTrigger("r1", "s1", now)
	}
	assert.False(t, rs.Allow("r1", "s1", now, 0, 3))
}

func TestRuntimeStateResetSession(t *testing.T) {
	rs := NewRuntimeState()
	now := time.Now()
	rs.RecordTrigger("r1", "s1", now)
	rs.ResetSession("s1")
	assert.True(t, rs.Allow("r1", "s1", now, 30, 0))
}
