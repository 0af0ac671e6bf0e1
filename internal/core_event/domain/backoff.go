package domain

import "time"

// BackoffDelay returns how long a record must wait before its next publish
// attempt: base doubled per prior attempt, capped at max. attemptCount is the
// number of attempts already made (>= 1 when a failure is being recorded).
func BackoffDelay(attemptCount int, base, max time.Duration) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}

	delay := base
	for i := 1; i < attemptCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}

	if delay > max {
		return max
	}
	return delay
}
