package harness

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/client"
	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
	"github.com/roach88/histsync/internal/relay"
	"github.com/roach88/histsync/internal/syncer"
	"github.com/roach88/histsync/internal/testutil"
)

const harnessToken = "harness-token"

// Harness holds the devices and relay of one scenario run.
type Harness struct {
	relay   *httptest.Server
	remote  *client.Client
	keys    map[string]envelope.Key
	devices map[string]*device
	order   []*device
}

// Run executes a scenario and returns its result.
//
// Each run gets fresh device databases in a temporary directory and a fresh
// in-memory relay. The returned error reports infrastructure failures; a
// scenario whose expectations do not hold returns a failing Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "histsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := newHarness(dir, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Flow {
		outcome, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s on %s: %w", i, step.Do, step.Device, err)
		}
		result.AddTrace(step.Device, step.Do, outcome)
		for _, msg := range matchExpect(step.Expect, outcome) {
			result.AddError(fmt.Sprintf("flow[%d] %s on %s: %s", i, step.Do, step.Device, msg))
		}
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		result.AddError(msg)
	}

	if err := h.collectStreams(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func newHarness(dir string, scenario *Scenario) (*Harness, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay storage: %w", err)
	}
	srv := relay.New(relay.NewLevelStorage(db), relay.Config{
		MaxRecordSize: scenario.Relay.MaxRecordSize,
		PageSize:      scenario.Relay.PageSize,
		Tokens:        map[string]string{harnessToken: "harness"},
	})
	ts := httptest.NewServer(srv.Handler())

	remote, err := client.New(ts.URL, harnessToken, client.Options{})
	if err != nil {
		ts.Close()
		return nil, err
	}

	h := &Harness{
		relay:   ts,
		remote:  remote,
		keys:    map[string]envelope.Key{},
		devices: map[string]*device{},
	}

	clock := testutil.NewDeterministicClock()
	for i, spec := range scenario.Devices {
		key, err := h.key(spec.Key)
		if err != nil {
			h.close()
			return nil, err
		}
		d, err := openDevice(dir, i+1, spec, key, clock, remote)
		if err != nil {
			h.close()
			return nil, err
		}
		h.devices[spec.Name] = d
		h.order = append(h.order, d)
	}
	return h, nil
}

func (h *Harness) close() {
	for _, d := range h.order {
		d.close()
	}
	h.relay.Close()
}

// key returns the named key, generating it on first use.
func (h *Harness) key(name string) (envelope.Key, error) {
	if name == "" {
		name = "default"
	}
	if k, ok := h.keys[name]; ok {
		return k, nil
	}
	k, err := envelope.GenerateKey()
	if err != nil {
		return envelope.Key{}, err
	}
	h.keys[name] = k
	return k, nil
}

func (h *Harness) execute(ctx context.Context, step Step) (map[string]any, error) {
	d := h.devices[step.Device]
	args := step.Args

	var op payload.Operation
	switch step.Do {
	case DoHistoryAdd:
		op = payload.HistoryCreate{Entry: payload.HistoryEntry{
			ID:        stringArg(args, "id", d.nextEntryID()),
			Timestamp: d.clock.Now().UnixNano(),
			Exit:      int64(intArg(args, "exit", 0)),
			Command:   stringArg(args, "command", ""),
			Cwd:       stringArg(args, "cwd", "/"),
			Session:   stringArg(args, "session", d.name),
			Hostname:  d.name,
		}}
	case DoHistoryDelete:
		op = payload.HistoryDelete{ID: stringArg(args, "id", "")}
	case DoAliasSet:
		op = payload.AliasCreate{Name: stringArg(args, "name", ""), Value: stringArg(args, "value", "")}
	case DoAliasDelete:
		op = payload.AliasDelete{Name: stringArg(args, "name", "")}
	case DoKVSet:
		op = payload.KVWrite{Namespace: stringArg(args, "namespace", "default"), Key: stringArg(args, "key", ""), Value: stringArg(args, "value", "")}
	case DoKVDelete:
		op = payload.KVDelete{Namespace: stringArg(args, "namespace", "default"), Key: stringArg(args, "key", "")}

	case DoRaw:
		tag := record.Tag(stringArg(args, "tag", string(record.TagHistory)))
		rec, err := d.appendRaw(ctx, tag, stringArg(args, "version", payload.V1), intArg(args, "size", 16))
		if err != nil {
			return nil, err
		}
		return map[string]any{"tag": string(rec.Tag), "idx": int(rec.Idx), "size": rec.Data.Size()}, nil

	case DoKeySet:
		name := stringArg(args, "key", "default")
		key, err := h.key(name)
		if err != nil {
			return nil, err
		}
		d.setKey(key)
		return map[string]any{"key": name}, nil

	case DoSync, DoPush, DoPull:
		return h.sync(ctx, d, step.Do)

	case DoRebuild:
		report, err := d.maintenance().Rebuild(ctx, record.Tag(stringArg(args, "tag", string(record.TagHistory))))
		if err != nil {
			return nil, err
		}
		return map[string]any{"applied": report.Applied, "skipped": len(report.Skipped), "skip_codes": skipCodes(report.Skipped)}, nil

	case DoPurge:
		n, err := d.maintenance().Purge(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"purged": n}, nil

	case DoVerify:
		report, err := d.maintenance().Verify(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": report.OK, "failed": report.Failed}, nil

	default:
		return nil, fmt.Errorf("unknown step %q", step.Do)
	}

	rec, err := d.append(ctx, op)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tag": string(rec.Tag), "idx": int(rec.Idx)}, nil
}

func (h *Harness) sync(ctx context.Context, d *device, do string) (map[string]any, error) {
	var (
		res syncer.Result
		err error
	)
	switch do {
	case DoPush:
		res, err = d.engine.Push(ctx)
	case DoPull:
		res, err = d.engine.Pull(ctx)
	default:
		res, err = d.engine.Sync(ctx)
	}
	if err != nil {
		return nil, err
	}

	applied := 0
	if len(res.Pulled) > 0 {
		report, err := builder.Extend(ctx, d.key, builder.NewHistoryBuilder(d.history), res.Pulled)
		if err != nil {
			return nil, err
		}
		applied = report.Applied
	}

	return map[string]any{
		"uploaded":       res.Uploaded,
		"downloaded":     res.Downloaded,
		"applied":        applied,
		"diverged_codes": h.streamCodes(res.Diverged),
		"failed_codes":   h.streamCodes(res.Failed),
	}, nil
}

// streamCodes renders stream errors as "<device>/<tag>:<code>", sorted.
func (h *Harness) streamCodes(errs []*syncer.StreamError) []string {
	out := []string{}
	for _, se := range errs {
		out = append(out, fmt.Sprintf("%s/%s:%s", h.deviceName(se.Host), se.Tag, se.Code))
	}
	sort.Strings(out)
	return out
}

func (h *Harness) deviceName(host record.HostID) string {
	for _, d := range h.order {
		if d.host == host {
			return d.name
		}
	}
	return host.String()
}

func (h *Harness) collectStreams(ctx context.Context, result *Result) error {
	for _, d := range h.order {
		status, err := d.store.Status(ctx)
		if err != nil {
			return fmt.Errorf("device %s status: %w", d.name, err)
		}
		tails := map[string]uint64{}
		for _, st := range status.Streams() {
			idx, _ := status.Get(st.Host, st.Tag)
			tails[fmt.Sprintf("%s/%s", h.deviceName(st.Host), st.Tag)] = uint64(idx)
		}
		result.Streams[d.name] = tails
	}
	return nil
}

func skipCodes(skips []builder.Skip) []string {
	out := []string{}
	for _, s := range skips {
		out = append(out, s.Code)
	}
	sort.Strings(out)
	return out
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		return fmt.Sprint(v)
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// matchExpect compares expect against outcome, key by key.
func matchExpect(expect, outcome map[string]any) []string {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []string
	for _, k := range keys {
		got, ok := outcome[k]
		if !ok {
			errs = append(errs, fmt.Sprintf("expected %s=%v, not in outcome", k, expect[k]))
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(expect[k]) {
			errs = append(errs, fmt.Sprintf("expected %s=%v, got %v", k, expect[k], got))
		}
	}
	return errs
}
