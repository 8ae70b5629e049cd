package feed

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuth means the API key was rejected. Runs abort on it.
	ErrAuth = errors.New("authentication failed")
	// ErrRateLimited means the upstream asked us to slow down
	ErrRateLimited = errors.New("rate limited")
	// ErrUnreachable covers transport failures and upstream 5xx responses
	ErrUnreachable = errors.New("upstream unreachable")
	// ErrMalformedResponse means the body was not a usable JSON envelope
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNormalization marks a single raw item that could not be normalized
	ErrNormalization = errors.New("record normalization failed")
	// ErrUnknownStrategy is returned for a cursor naming a strategy that is not configured
	ErrUnknownStrategy = errors.New("unknown feed strategy")
)

// FetchError describes a failed upstream call
type FetchError struct {
	Strategy   string
	Region     string
	StatusCode int
	RetryAfter time.Duration
	Detail     string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s/%s: %v", e.Strategy, e.Region, e.Err)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NormalizationError describes why a raw item was dropped
type NormalizationError struct {
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *NormalizationError) Unwrap() error {
	return ErrNormalization
}

// IsRetryable reports whether err is a transient upstream failure
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnreachable)
}
