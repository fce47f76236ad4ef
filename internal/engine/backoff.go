package engine

import "time"

// retryDelay returns the wait before the next attempt for an item that
// has failed retryCount times. The first retry waits base, the second
// 2*base, then 4*base, doubling until the ceiling.
func retryDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 1 {
		return base
	}

	delay := base
	for i := 1; i < retryCount; i++ {
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
