package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind is the semantic failure class of a provider call. The
// orchestrator surfaces these unchanged; there is no automatic retry
// at that layer.
type ErrorKind string

const (
	// KindUnavailable covers network and auth failures: the provider
	// could not be reached or refused the credentials.
	KindUnavailable ErrorKind = "provider_unavailable"

	// KindRejected covers 4xx-class semantic rejections: bad model,
	// malformed request, content policy.
	KindRejected ErrorKind = "provider_rejected"

	// KindTimeout covers deadline expiry.
	KindTimeout ErrorKind = "provider_timeout"
)

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err with the ErrorKind inferred from status (an HTTP
// status code, 0 if unknown) and the error's own shape. A nil err
// returns nil.
func Classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	kind := KindUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case status == 401 || status == 403:
		kind = KindUnavailable
	case status == 408 || status == 429:
		kind = KindTimeout
	case status >= 400 && status < 500:
		kind = KindRejected
	case status >= 500:
		kind = KindUnavailable
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		}
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Err: err}
}

// KindOf extracts the ErrorKind from a classified error, or "" when
// err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
