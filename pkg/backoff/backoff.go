package backoff

import "time"

// Ladder is a fixed, increasing sequence of retry delays. Attempts past the
// end of the ladder reuse the last value.
type Ladder []time.Duration

// Publish is the delay ladder between publish attempts.
var Publish = Ladder{5 * time.Minute, 15 * time.Minute, 60 * time.Minute}

// Webhook is the delay ladder between webhook delivery attempts.
var Webhook = Ladder{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}

// Delay returns the delay for the given zero-based attempt index.
func (l Ladder) Delay(attempt int) time.Duration {
	if len(l) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(l) {
		attempt = len(l) - 1
	}
	return l[attempt]
}
