package engine

import (
	"testing"
	"time"
)

// TestRetryDelay tests exponential growth and the ceiling
func TestRetryDelay(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{10, 5 * time.Minute},
		{30, 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := retryDelay(tt.retryCount, base, max); got != tt.want {
			t.Errorf("retryDelay(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

// TestRetryDelay_TightCeiling tests a ceiling below the base delay
func TestRetryDelay_TightCeiling(t *testing.T) {
	if got := retryDelay(1, time.Minute, time.Second); got != time.Second {
		t.Errorf("retryDelay() = %s, want the 1s ceiling", got)
	}
}
