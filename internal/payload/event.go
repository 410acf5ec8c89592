package payload

import "github.com/roach88/histsync/internal/record"

// EventEmit is one telemetry event. Events are append-only.
type EventEmit struct {
	Name       string
	Attributes map[string]string
}

func (EventEmit) Tag() record.Tag { return record.TagEvent }
func (EventEmit) operation()      {}

type eventV1 struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func encodeEvent(op Operation) (eventV1, error) {
	o := op.(EventEmit)
	if o.Name == "" {
		return eventV1{}, corrupt(record.TagEvent, "event without name")
	}
	return eventV1{Name: o.Name, Attributes: o.Attributes}, nil
}

func decodeEventV1(data []byte) (Operation, error) {
	var w eventV1
	if err := unmarshal(record.TagEvent, data, &w); err != nil {
		return nil, err
	}
	if w.Name == "" {
		return nil, corrupt(record.TagEvent, "event without name")
	}
	return EventEmit{Name: w.Name, Attributes: w.Attributes}, nil
}
