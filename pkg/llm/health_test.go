package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthGateCooldown(t *testing.T) {
	gate := newHealthGate(30 * time.Second)
	now := time.Now()
	gate.now = func() time.Time { return now }

	assert.True(t, gate.available("primary"))

	gate.markFailure("primary")
	assert.False(t, gate.available("primary"))
	assert.True(t, gate.available("secondary"))

	now = now.Add(29 * time.Second)
	assert.False(t, gate.available("primary"))

	now = now.Add(2 * time.Second)
	assert.True(t, gate.available("primary"))
}

func TestHealthGateSuccessLiftsCooldown(t *testing.T) {
	gate := newHealthGate(time.Minute)
	gate.markFailure("primary")
	assert.False(t, gate.available("primary"))

	gate.markSuccess("primary")
	assert.True(t, gate.available("primary"))
}
