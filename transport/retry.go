package transport

import (
	"net/http"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

const defaultMaxAttempts = 3
const defaultRetryInitialDelay = 500 * time.Millisecond
const defaultRetryMaxDelay = 30 * time.Second

// ExponentialRetryPolicy retries transient outcomes: network failures, 429s,
// and 5xx responses. Authentication and other 4xx outcomes are final.
type ExponentialRetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

func NewExponentialRetryPolicy() ExponentialRetryPolicy {
	return ExponentialRetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		Initial:     defaultRetryInitialDelay,
		Max:         defaultRetryMaxDelay,
	}
}

func (p ExponentialRetryPolicy) ShouldRetry(attempt int, status int, err error) bool {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if attempt >= maxAttempts {
		return false
	}
	if err != nil {
		return true
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = defaultRetryInitialDelay
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = defaultRetryMaxDelay
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

var _ core.RetryPolicy = ExponentialRetryPolicy{}
