package harness

// TraceEvent is the outcome of one flow step.
type TraceEvent struct {
	Seq     int            `json:"seq"`
	Device  string         `json:"device"`
	Do      string         `json:"do"`
	Outcome map[string]any `json:"outcome"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Streams maps each device to its final stream tails, keyed
	// "<host device>/<tag>".
	Streams map[string]map[string]uint64 `json:"streams"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Streams: map[string]map[string]uint64{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(device, do string, outcome map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Device:  device,
		Do:      do,
		Outcome: outcome,
	})
}
