package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_DoublesPerAttempt(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	assert.Equal(t, 2*time.Second, BackoffDelay(1, base, max))
	assert.Equal(t, 4*time.Second, BackoffDelay(2, base, max))
	assert.Equal(t, 8*time.Second, BackoffDelay(3, base, max))
	assert.Equal(t, 16*time.Second, BackoffDelay(4, base, max))
}

func TestBackoffDelay_CappedAtMax(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	assert.Equal(t, max, BackoffDelay(10, base, max))
	assert.Equal(t, max, BackoffDelay(100, base, max))
}

func TestBackoffDelay_ClampsAttemptCount(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	assert.Equal(t, base, BackoffDelay(0, base, max))
	assert.Equal(t, base, BackoffDelay(-3, base, max))
}

func TestBackoffDelay_BaseAboveMax(t *testing.T) {
	assert.Equal(t, time.Second, BackoffDelay(1, 10*time.Second, time.Second))
}
