package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition_LegalPaths(t *testing.T) {
	legal := []struct {
		from Status
		to   Status
	}{
		{StatusPending, StatusPublishing},
		{StatusPublishing, StatusPublished},
		{StatusPublishing, StatusPending},
		{StatusPublishing, StatusFailed},
		{StatusPublishing, StatusDeadLettered},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusDeadLettered},
	}
	for _, tc := range legal {
		assert.NoError(t, ValidateTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}
}

func TestValidateTransition_IllegalPaths(t *testing.T) {
	illegal := []struct {
		from Status
		to   Status
	}{
		{StatusPending, StatusPublished},
		{StatusPending, StatusDeadLettered},
		{StatusPublished, StatusPending},
		{StatusPublished, StatusPublishing},
		{StatusDeadLettered, StatusPending},
		{StatusDeadLettered, StatusPublishing},
		{StatusFailed, StatusPublished},
	}
	for _, tc := range illegal {
		err := ValidateTransition(tc.from, tc.to)
		assert.Error(t, err, "%s -> %s should be illegal", tc.from, tc.to)
		assert.True(t, IsInvalidTransition(err))
	}
}

func TestTransitionError_Message(t *testing.T) {
	err := ValidateTransition(StatusPublished, StatusPending)
	assert.EqualError(t, err, "invalid state transition PUBLISHED -> PENDING")
}
