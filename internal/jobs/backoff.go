package jobs

import "time"

// generationBackoff is a business schedule, not a formula: give a struggling
// gateway room, but do not give up within a day.
var generationBackoff = [...]time.Duration{time.Hour, 6 * time.Hour, 24 * time.Hour}

// DefaultGenerationAttempts applies when no attempt count is configured.
const DefaultGenerationAttempts = 3

// BackoffDelay returns the wait before retrying after the given attempt
// (1-based). Anything outside the table waits the longest delay.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 || attempt > len(generationBackoff) {
		return generationBackoff[len(generationBackoff)-1]
	}
	return generationBackoff[attempt-1]
}

// Webhook retries mostly wait out a charge that is not committed yet, so
// they start short.
var webhookSchedule = [...]time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute, time.Hour}

func webhookBackoff(attempt int) time.Duration {
	if attempt < 1 || attempt > len(webhookSchedule) {
		return webhookSchedule[len(webhookSchedule)-1]
	}
	return webhookSchedule[attempt-1]
}
