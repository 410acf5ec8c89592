package record

import "fmt"

// Decision is the outcome of checking a record against its stream's tail.
type Decision int

const (
	// Append: next is the new tail.
	Append Decision = iota
	// AlreadyApplied: next is already stored at its idx; pushing is a no-op.
	AlreadyApplied
)

// CheckAppend validates next against last, the current tail of next's stream
// (nil when the stream is empty). existing is the record stored at next.Idx,
// if any; it lets a retried push be recognised as already applied.
//
// The local store and the relay both call CheckAppend so that they enforce
// the same contract.
func CheckAppend[T any](last, existing *Record[T], next Record[T]) (Decision, error) {
	if !next.Tag.Valid() {
		return 0, fmt.Errorf("invalid tag %q", next.Tag)
	}

	if existing != nil {
		if existing.ID == next.ID {
			return AlreadyApplied, nil
		}
		return 0, &AppendError{
			Err:    ErrChainMismatch,
			Stream: next.Stream(),
			Idx:    next.Idx,
			Detail: fmt.Sprintf("idx already holds %s, got %s", existing.ID, next.ID),
		}
	}

	if last == nil {
		if next.Idx != 0 {
			return 0, &AppendError{
				Err:    ErrNonContiguousIdx,
				Stream: next.Stream(),
				Idx:    next.Idx,
				Detail: "stream is empty, expected idx 0",
			}
		}
		if next.Parent != nil {
			return 0, &AppendError{
				Err:    ErrChainMismatch,
				Stream: next.Stream(),
				Idx:    next.Idx,
				Detail: "first record must not have a parent",
			}
		}
		return Append, nil
	}

	if next.Idx != last.Idx+1 {
		return 0, &AppendError{
			Err:    ErrNonContiguousIdx,
			Stream: next.Stream(),
			Idx:    next.Idx,
			Detail: fmt.Sprintf("expected idx %d", last.Idx+1),
		}
	}
	if next.Parent == nil || *next.Parent != last.ID {
		return 0, &AppendError{
			Err:    ErrChainMismatch,
			Stream: next.Stream(),
			Idx:    next.Idx,
			Detail: fmt.Sprintf("parent must be %s", last.ID),
		}
	}
	return Append, nil
}
