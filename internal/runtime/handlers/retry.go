package handlers

import (
	"fmt"
	"time"
)

// DefaultRetryIn is used when a directive does not set RetryIn.
const DefaultRetryIn = time.Second

// RetryDirective asks for the current message to be redelivered after RetryIn,
// up to MaxRetries receives. MaxRetries of zero means unbounded.
type RetryDirective struct {
	MaxRetries int
	RetryIn    time.Duration
	Reason     string
}

// Retry builds a directive for handlers to return.
func Retry(maxRetries int, retryIn time.Duration, reason string) *RetryDirective {
	return &RetryDirective{MaxRetries: maxRetries, RetryIn: retryIn, Reason: reason}
}

func (r *RetryDirective) Error() string {
	if r.Reason == "" {
		return fmt.Sprintf("retry requested in %s", r.Delay())
	}
	return fmt.Sprintf("retry requested in %s: %s", r.Delay(), r.Reason)
}

// Delay is RetryIn, or DefaultRetryIn when unset.
func (r *RetryDirective) Delay() time.Duration {
	if r == nil || r.RetryIn <= 0 {
		return DefaultRetryIn
	}
	return r.RetryIn
}

// Allows reports whether another attempt is permitted for a message that has
// been received receiveCount times.
func (r *RetryDirective) Allows(receiveCount int) bool {
	if r.MaxRetries <= 0 {
		return true
	}
	return receiveCount <= r.MaxRetries
}
