package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsWithinJitter(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 2)

	for _, base := range []time.Duration{100, 200, 400, 800, 1000, 1000} {
		base *= time.Millisecond
		wait := b.Next()
		assert.GreaterOrEqual(t, wait, max(base*8/10, 100*time.Millisecond))
		assert.LessOrEqual(t, wait, base*12/10)
	}
	assert.Equal(t, 6, b.Attempts())
}

func TestBackoff_NeverBelowMinimum(t *testing.T) {
	b := NewBackoff(50*time.Millisecond, 50*time.Millisecond, 3)
	for range 20 {
		assert.GreaterOrEqual(t, b.Next(), 50*time.Millisecond)
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, time.Second, 2)
	for range 5 {
		b.Next()
	}
	b.Reset()

	assert.Zero(t, b.Attempts())
	assert.LessOrEqual(t, b.Next(), 12*time.Millisecond)
}

func TestBackoff_MultiplierBelowOneIsFlat(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, time.Second, 0.5)
	for range 5 {
		assert.LessOrEqual(t, b.Next(), 12*time.Millisecond)
	}
}
