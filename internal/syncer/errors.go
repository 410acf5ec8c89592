package syncer

import (
	"errors"
	"fmt"

	"github.com/roach88/histsync/internal/record"
)

var (
	// ErrTransport marks a network failure or timeout talking to the relay.
	// Transport failures are retried from the last confirmed idx.
	ErrTransport = errors.New("transport failure")

	// ErrDivergedStream marks a stream whose chain on one side does not
	// extend the chain on the other. The stream is skipped for the pass.
	ErrDivergedStream = errors.New("diverged stream")
)

// CodeTransport is the StreamError code for exhausted transport retries.
const CodeTransport record.Code = "TRANSPORT_FAILURE"

// StreamError reports a failure confined to one stream.
type StreamError struct {
	// Host and Tag identify the stream.
	Host record.HostID
	Tag  record.Tag

	// Code identifies the error category.
	Code record.Code

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: stream %s/%s: %v", e.Code, e.Host, e.Tag, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsDiverged returns true if err reports a diverged stream.
// Uses errors.As to handle wrapped errors.
func IsDiverged(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return errors.Is(se.Err, ErrDivergedStream)
	}
	return errors.Is(err, ErrDivergedStream)
}

func streamError(st record.Stream, err error) *StreamError {
	code := record.CodeOf(err)
	switch {
	case record.IsDivergence(err):
		err = fmt.Errorf("%w: %w", ErrDivergedStream, err)
	case errors.Is(err, ErrTransport):
		code = CodeTransport
	}
	return &StreamError{Host: st.Host, Tag: st.Tag, Code: code, Err: err}
}
