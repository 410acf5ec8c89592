package record

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the local store, the relay and the sync engine.
// Callers match them with errors.Is.
var (
	// ErrNonContiguousIdx: the pushed idx is not last+1 for its stream.
	ErrNonContiguousIdx = errors.New("non-contiguous idx")

	// ErrChainMismatch: the pushed parent is not the id of the stream's last
	// record, or a different record already occupies the idx.
	ErrChainMismatch = errors.New("chain mismatch")

	// ErrRecordTooLarge: the relay refused an envelope above its size limit.
	ErrRecordTooLarge = errors.New("record too large")

	// ErrStorageUnavailable: the persistence engine failed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound: no record with the requested identity.
	ErrNotFound = errors.New("record not found")
)

// Code is the wire name of an error kind. The relay reports rejections with a
// Code and the client maps it back to the sentinel error.
type Code string

const (
	CodeNonContiguousIdx Code = "NON_CONTIGUOUS_IDX"
	CodeChainMismatch    Code = "CHAIN_MISMATCH"
	CodeRecordTooLarge   Code = "RECORD_TOO_LARGE"
	CodeInvalidRecord    Code = "INVALID_RECORD"
	CodeStorage          Code = "STORAGE_UNAVAILABLE"
)

// CodeOf classifies err for transmission.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrNonContiguousIdx):
		return CodeNonContiguousIdx
	case errors.Is(err, ErrChainMismatch):
		return CodeChainMismatch
	case errors.Is(err, ErrRecordTooLarge):
		return CodeRecordTooLarge
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorage
	default:
		return CodeInvalidRecord
	}
}

// Err returns the sentinel error for c, or nil when c has none.
func (c Code) Err() error {
	switch c {
	case CodeNonContiguousIdx:
		return ErrNonContiguousIdx
	case CodeChainMismatch:
		return ErrChainMismatch
	case CodeRecordTooLarge:
		return ErrRecordTooLarge
	case CodeStorage:
		return ErrStorageUnavailable
	default:
		return nil
	}
}

// AppendError describes why a record could not be appended to its stream.
type AppendError struct {
	Err    error // ErrNonContiguousIdx or ErrChainMismatch
	Stream Stream
	Idx    Idx
	Detail string
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("%v: host=%s tag=%s idx=%d: %s", e.Err, e.Stream.Host, e.Stream.Tag, e.Idx, e.Detail)
}

func (e *AppendError) Unwrap() error {
	return e.Err
}

// IsDivergence reports whether err means the stream's chain does not line up
// with what the writer expected.
func IsDivergence(err error) bool {
	return errors.Is(err, ErrChainMismatch) || errors.Is(err, ErrNonContiguousIdx)
}
