package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelaySchedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Hour},
		{2, 6 * time.Hour},
		{3, 24 * time.Hour},
		{4, 24 * time.Hour},
		{10, 24 * time.Hour},
		{0, 24 * time.Hour},
		{-1, 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
	assert.Less(t, BackoffDelay(1), BackoffDelay(2))
	assert.Less(t, BackoffDelay(2), BackoffDelay(3))
}
