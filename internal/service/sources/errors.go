// Package sources provides indicator source adapters and the transient/permanent
// error taxonomy the fetch orchestrator retries on.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/sony/gobreaker"

	xhttp "MacroPulse/pkg/http"
)

var (
	// ErrInvalidResponse indicates a malformed or unexpected payload.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidValue indicates a missing, non-numeric, NaN or infinite value.
	ErrInvalidValue = errors.New("invalid indicator value")
	// ErrUnknownIndicator indicates the source does not serve the indicator.
	ErrUnknownIndicator = errors.New("unknown indicator")
	// ErrNoData indicates the source has not produced a value yet.
	ErrNoData = errors.New("no data available")
	// ErrStaleData indicates the latest value is older than the allowed age.
	ErrStaleData = errors.New("stale data")
	// ErrNotConnected indicates a streaming source has no live connection.
	ErrNotConnected = errors.New("source not connected")
	// ErrUnknownSourceType indicates a source config names an unsupported type.
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrAPIKeyRequired indicates that an API key is required.
	ErrAPIKeyRequired = errors.New("API key is required")
	// ErrAdapterPanic indicates an adapter panicked while fetching.
	ErrAdapterPanic = errors.New("adapter panic")
)

// ErrorKind separates failures worth retrying from those that are not.
type ErrorKind int

const (
	Transient ErrorKind = iota
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// SourceError is a fetch failure tagged with its kind.
type SourceError struct {
	Kind      ErrorKind
	Source    string
	Indicator string
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Kind, e.Source, e.Indicator, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable failure.
func NewTransient(source, indicator string, err error) error {
	return &SourceError{Kind: Transient, Source: source, Indicator: indicator, Err: err}
}

// NewPermanent wraps err as a non-retryable failure.
func NewPermanent(source, indicator string, err error) error {
	return &SourceError{Kind: Permanent, Source: source, Indicator: indicator, Err: err}
}

// Classify decides whether err is worth retrying. Errors already tagged with a
// SourceError keep their kind; unknown errors are treated as transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return Transient
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}

	var status *xhttp.StatusError
	if errors.As(err, &status) {
		if status.Code >= 500 || status.Code == 429 {
			return Transient
		}
		return Permanent
	}

	switch {
	case errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, ErrUnknownIndicator),
		errors.Is(err, ErrAPIKeyRequired),
		errors.Is(err, ErrAdapterPanic):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return Transient
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Transient
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
