package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/record"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.assert(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) assert(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertHistoryCount:
		return h.assertHistoryCount(ctx, a)
	case AssertHistoryContains:
		return h.assertHistoryContains(ctx, a)
	case AssertAlias:
		return h.assertAlias(ctx, a)
	case AssertKV:
		return h.assertKV(ctx, a)
	case AssertStatusMatch:
		return h.assertStatusMatch(ctx, a)
	case AssertStreamTail:
		return h.assertStreamTail(ctx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertHistoryCount(ctx context.Context, a Assertion) error {
	n, err := h.devices[a.Device].history.Count(ctx)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d history entries on %s", a.Count, a.Device),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func (h *Harness) assertHistoryContains(ctx context.Context, a Assertion) error {
	entries, err := h.devices[a.Device].history.List(ctx, 0)
	if err != nil {
		return err
	}
	var commands []string
	for _, e := range entries {
		if e.Command == a.Command {
			return nil
		}
		commands = append(commands, e.Command)
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("command %q in history of %s", a.Command, a.Device),
		Actual:   fmt.Sprintf("%q", commands),
	}
}

func (h *Harness) assertAlias(ctx context.Context, a Assertion) error {
	d := h.devices[a.Device]
	b := builder.NewAliasBuilder()
	if _, err := builder.Build(ctx, d.store, d.key, b); err != nil {
		return err
	}
	value, ok := b.Get(a.Name)
	return compareValue(a, value, ok)
}

func (h *Harness) assertKV(ctx context.Context, a Assertion) error {
	d := h.devices[a.Device]
	b := builder.NewKVBuilder()
	if _, err := builder.Build(ctx, d.store, d.key, b); err != nil {
		return err
	}
	ns := a.Namespace
	if ns == "" {
		ns = "default"
	}
	value, ok := b.Get(ns, a.Name)
	return compareValue(a, value, ok)
}

// compareValue checks a looked-up value. A nil expected value means the
// name must be absent.
func compareValue(a Assertion, value string, ok bool) error {
	switch {
	case a.Value == nil && !ok:
		return nil
	case a.Value == nil:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s absent on %s", a.Name, a.Device), Actual: fmt.Sprintf("%q", value)}
	case !ok:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s=%q on %s", a.Name, *a.Value, a.Device), Actual: "absent"}
	case value != *a.Value:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s=%q on %s", a.Name, *a.Value, a.Device), Actual: fmt.Sprintf("%q", value)}
	}
	return nil
}

// assertStatusMatch checks that each device's local status equals the
// relay's.
func (h *Harness) assertStatusMatch(ctx context.Context, a Assertion) error {
	remote, err := h.remote.Status(ctx)
	if err != nil {
		return err
	}
	for _, name := range a.Devices {
		local, err := h.devices[name].store.Status(ctx)
		if err != nil {
			return err
		}
		if !local.Equal(remote) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("status of %s equal to relay %s", name, h.describe(remote)),
				Actual:   h.describe(local),
			}
		}
	}
	return nil
}

func (h *Harness) assertStreamTail(ctx context.Context, a Assertion) error {
	d := h.devices[a.Device]
	last, err := d.store.Last(ctx, h.devices[a.Host].host, record.Tag(a.Tag))
	if err != nil {
		return err
	}
	stream := fmt.Sprintf("%s/%s on %s", a.Host, a.Tag, a.Device)
	switch {
	case a.Idx == nil && last == nil:
		return nil
	case a.Idx == nil:
		return &AssertionError{Type: a.Type, Expected: stream + " absent", Actual: fmt.Sprintf("tail idx %d", last.Idx)}
	case last == nil:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s tail idx %d", stream, *a.Idx), Actual: "absent"}
	case int(last.Idx) != *a.Idx:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s tail idx %d", stream, *a.Idx), Actual: fmt.Sprintf("tail idx %d", last.Idx)}
	}
	return nil
}

func (h *Harness) describe(s record.Status) string {
	var parts []string
	for _, st := range s.Streams() {
		idx, _ := s.Get(st.Host, st.Tag)
		parts = append(parts, fmt.Sprintf("%s/%s=%d", h.deviceName(st.Host), st.Tag, idx))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
