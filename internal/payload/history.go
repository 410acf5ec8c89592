package payload

import "github.com/roach88/histsync/internal/record"

// HistoryEntry is one executed shell command.
type HistoryEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // ns since epoch
	Duration  int64  `json:"duration"`  // ns, -1 while running
	Exit      int64  `json:"exit"`
	Command   string `json:"command"`
	Cwd       string `json:"cwd"`
	Session   string `json:"session"`
	Hostname  string `json:"hostname"`
}

// HistoryCreate adds an entry.
type HistoryCreate struct {
	Entry HistoryEntry
}

// HistoryDelete removes an entry by id.
type HistoryDelete struct {
	ID string
}

func (HistoryCreate) Tag() record.Tag { return record.TagHistory }
func (HistoryDelete) Tag() record.Tag { return record.TagHistory }
func (HistoryCreate) operation()      {}
func (HistoryDelete) operation()      {}

type historyV1 struct {
	Op    string        `json:"op"`
	Entry *HistoryEntry `json:"entry,omitempty"`
	ID    string        `json:"id,omitempty"`
}

func encodeHistory(op Operation) (historyV1, error) {
	switch o := op.(type) {
	case HistoryCreate:
		if o.Entry.ID == "" {
			return historyV1{}, corrupt(record.TagHistory, "create without id")
		}
		e := o.Entry
		return historyV1{Op: "create", Entry: &e}, nil
	case HistoryDelete:
		if o.ID == "" {
			return historyV1{}, corrupt(record.TagHistory, "delete without id")
		}
		return historyV1{Op: "delete", ID: o.ID}, nil
	}
	panic("unreachable")
}

func decodeHistoryV1(data []byte) (Operation, error) {
	var w historyV1
	if err := unmarshal(record.TagHistory, data, &w); err != nil {
		return nil, err
	}
	switch w.Op {
	case "create":
		if w.Entry == nil || w.Entry.ID == "" {
			return nil, corrupt(record.TagHistory, "create without entry")
		}
		return HistoryCreate{Entry: *w.Entry}, nil
	case "delete":
		if w.ID == "" {
			return nil, corrupt(record.TagHistory, "delete without id")
		}
		return HistoryDelete{ID: w.ID}, nil
	default:
		return nil, corrupt(record.TagHistory, "unknown op %q", w.Op)
	}
}
