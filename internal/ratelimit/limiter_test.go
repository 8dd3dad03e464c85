package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenDenied(t *testing.T) {
	l := NewLimiter(3600, 2)

	assert.True(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"), "burst exhausted")
}

func TestClientsAreIsolated(t *testing.T) {
	l := NewLimiter(3600, 1)

	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestGetLimiterIsStable(t *testing.T) {
	l := NewLimiter(3600, 5)

	first := l.GetLimiter("client-a")
	second := l.GetLimiter("client-a")
	assert.Same(t, first, second)
}

func TestTokensDecrease(t *testing.T) {
	l := NewLimiter(3600, 10)

	before := l.Tokens("client-a")
	l.Allow("client-a")
	after := l.Tokens("client-a")
	assert.Less(t, after, before)
}
