package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrStreamEnded means the connection closed before a terminal event.
	ErrStreamEnded = errors.New("stream ended before completion")

	// ErrSessionBusy is returned when a session is already running.
	ErrSessionBusy = errors.New("enrichment already in progress")
)

// TransportError is a timeout or connection failure. It is retryable.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: Request timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: Network connection failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a non-2xx answer from the classification service.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Sprintf("%s: rate limited by classification service, retry later", e.Op)
	case http.StatusPaymentRequired:
		return fmt.Sprintf("%s: classification quota exhausted, billing action needed", e.Op)
	default:
		if e.Body != "" {
			return fmt.Sprintf("%s: classification service returned status %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: classification service returned status %d", e.Op, e.StatusCode)
	}
}

// RateLimited reports a 429 answer.
func (e *RemoteError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// QuotaExhausted reports a 402 answer.
func (e *RemoteError) QuotaExhausted() bool { return e.StatusCode == http.StatusPaymentRequired }

// StreamError carries the message of an error event sent by the service.
type StreamError struct {
	Op      string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsRetryable reports whether err is worth one more attempt: timeouts and
// connection failures are, remote refusals and error events are not.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// UserMessage turns an enrichment error into text suitable for end users.
func UserMessage(err error) string {
	var (
		te *TransportError
		re *RemoteError
		se *StreamError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Enrichment cancelled"
	case errors.As(err, &re) && re.RateLimited():
		return "Rate limited: too many requests, please retry later"
	case errors.As(err, &re) && re.QuotaExhausted():
		return "Quota exhausted: billing action needed before classifying more transactions"
	case errors.As(err, &re):
		return fmt.Sprintf("Classification failed with status %d", re.StatusCode)
	case errors.As(err, &te) && te.Timeout:
		return "Request timed out"
	case errors.As(err, &te):
		return "Network connection failed"
	case errors.As(err, &se):
		return se.Message
	default:
		return err.Error()
	}
}

// transportError classifies a failed request or read.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return err
	}
	timeout := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	return &TransportError{Op: op, Timeout: timeout, Err: err}
}
