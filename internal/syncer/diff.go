package syncer

import (
	"fmt"

	"github.com/roach88/histsync/internal/record"
)

// Direction of a transfer.
type Direction int

const (
	// Upload sends local records to the relay.
	Upload Direction = iota + 1
	// Download fetches relay records into the local store.
	Download
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Operation is the transfer needed to bring one stream level on both sides.
// From and To are inclusive idx bounds.
type Operation struct {
	Direction Direction
	Host      record.HostID
	Tag       record.Tag
	From      record.Idx
	To        record.Idx
}

// Stream returns the stream the operation moves.
func (o Operation) Stream() record.Stream {
	return record.Stream{Host: o.Host, Tag: o.Tag}
}

// Count returns the number of records the operation moves.
func (o Operation) Count() int {
	return int(o.To-o.From) + 1
}

// Diff compares two status snapshots and returns one operation per stream
// that differs, ordered by host then tag. A stream missing on one side is
// transferred from idx 0. Streams that are level produce nothing.
func Diff(local, remote record.Status) []Operation {
	seen := map[record.Stream]bool{}
	var streams []record.Stream
	for _, st := range append(local.Streams(), remote.Streams()...) {
		if !seen[st] {
			seen[st] = true
			streams = append(streams, st)
		}
	}
	record.SortStreams(streams)

	var ops []Operation
	for _, st := range streams {
		l, lok := local.Get(st.Host, st.Tag)
		r, rok := remote.Get(st.Host, st.Tag)

		op := Operation{Host: st.Host, Tag: st.Tag}
		switch {
		case lok && !rok:
			op.Direction, op.From, op.To = Upload, 0, l
		case rok && !lok:
			op.Direction, op.From, op.To = Download, 0, r
		case l > r:
			op.Direction, op.From, op.To = Upload, r+1, l
		case r > l:
			op.Direction, op.From, op.To = Download, l+1, r
		default:
			continue
		}
		ops = append(ops, op)
	}
	return ops
}
