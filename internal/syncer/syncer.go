// Package syncer reconciles the local record store with the relay.
//
// A pass compares status snapshots, then moves the missing records of each
// stream in pages, uploading what the relay lacks and downloading what the
// local store lacks. Streams are independent and run on a bounded worker
// pool; pages within a stream go strictly in idx order.
//
// Failure handling:
//   - chain or contiguity rejections mark the stream diverged and skip it
//   - RecordTooLarge fails the stream and is not retried
//   - transport failures are retried from the last confirmed idx
//   - StorageUnavailable aborts the whole pass
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/histsync/internal/record"
)

// Local is the local record store as seen by the sync engine.
type Local interface {
	Status(ctx context.Context) (record.Status, error)
	Range(ctx context.Context, host record.HostID, tag record.Tag, start record.Idx, count int) ([]record.Record[record.Encrypted], error)
	PushBatch(ctx context.Context, recs []record.Record[record.Encrypted]) (int, error)
}

// Remote is the relay.
type Remote interface {
	Status(ctx context.Context) (record.Status, error)
	Push(ctx context.Context, recs []record.Record[record.Encrypted]) (record.PushResult, error)
	Next(ctx context.Context, host record.HostID, tag record.Tag, start record.Idx, count int) ([]record.Record[record.Encrypted], error)
}

// Defaults for Options.
const (
	DefaultPageSize = 100
	DefaultWorkers  = 4
	DefaultRetries  = 3
	DefaultBackoff  = 500 * time.Millisecond
)

// Options tunes a sync pass. Zero values take the defaults; Retries < 0
// disables retrying.
type Options struct {
	PageSize int
	Workers  int
	Retries  int
	Backoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Retries == 0 {
		o.Retries = DefaultRetries
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	return o
}

// Result summarizes a pass.
type Result struct {
	Uploaded   int
	Downloaded int

	// Diverged lists streams skipped because their chains do not line up.
	Diverged []*StreamError

	// Failed lists streams that failed for any other reason.
	Failed []*StreamError

	// Pulled holds every record applied locally during the pass, for
	// incremental builds.
	Pulled []record.Record[record.Encrypted]
}

// OK reports whether every stream was brought level.
func (r Result) OK() bool {
	return len(r.Diverged) == 0 && len(r.Failed) == 0
}

// Engine runs sync passes between one local store and one relay.
type Engine struct {
	local  Local
	remote Remote
	opts   Options
}

// New creates an Engine.
func New(local Local, remote Remote, opts Options) *Engine {
	return &Engine{local: local, remote: remote, opts: opts.withDefaults()}
}

// Sync uploads and downloads until both sides hold every stream either
// had at the start of the pass.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	return e.run(ctx, Upload, Download)
}

// Push only uploads.
func (e *Engine) Push(ctx context.Context) (Result, error) {
	return e.run(ctx, Upload)
}

// Pull only downloads.
func (e *Engine) Pull(ctx context.Context) (Result, error) {
	return e.run(ctx, Download)
}

// Plan returns the operations a pass would run now.
func (e *Engine) Plan(ctx context.Context) ([]Operation, error) {
	local, err := e.local.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("local status: %w", err)
	}
	remote, err := e.remoteStatus(ctx)
	if err != nil {
		return nil, err
	}
	return Diff(local, remote), nil
}

func (e *Engine) run(ctx context.Context, dirs ...Direction) (Result, error) {
	ops, err := e.Plan(ctx)
	if err != nil {
		return Result{}, err
	}

	wanted := map[Direction]bool{}
	for _, d := range dirs {
		wanted[d] = true
	}

	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for _, op := range ops {
		if !wanted[op.Direction] {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, pulled, err := e.transfer(gctx, op)

			mu.Lock()
			defer mu.Unlock()
			switch op.Direction {
			case Upload:
				res.Uploaded += n
			case Download:
				res.Downloaded += n
				res.Pulled = append(res.Pulled, pulled...)
			}
			if err == nil {
				return nil
			}
			if errors.Is(err, record.ErrStorageUnavailable) {
				return err
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			se := streamError(op.Stream(), err)
			if errors.Is(se.Err, ErrDivergedStream) {
				slog.Warn("stream diverged", "host", op.Host.String(), "tag", op.Tag, "direction", op.Direction, "error", err)
				res.Diverged = append(res.Diverged, se)
			} else {
				slog.Error("stream failed", "host", op.Host.String(), "tag", op.Tag, "direction", op.Direction, "error", err)
				res.Failed = append(res.Failed, se)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("sync aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("sync aborted: %w", err)
	}

	sortStreamErrors(res.Diverged)
	sortStreamErrors(res.Failed)
	record.SortForBuild(res.Pulled)

	slog.Info("sync pass complete",
		"uploaded", res.Uploaded,
		"downloaded", res.Downloaded,
		"diverged", len(res.Diverged),
		"failed", len(res.Failed),
	)
	return res, nil
}

// transfer moves op's records page by page. It returns how many records
// were confirmed before any error.
func (e *Engine) transfer(ctx context.Context, op Operation) (int, []record.Record[record.Encrypted], error) {
	slog.Debug("stream transfer", "host", op.Host.String(), "tag", op.Tag, "direction", op.Direction, "from", op.From, "to", op.To)
	if op.Direction == Upload {
		n, err := e.upload(ctx, op)
		return n, nil, err
	}
	return e.download(ctx, op)
}

func (e *Engine) upload(ctx context.Context, op Operation) (int, error) {
	sent := 0
	for cursor := op.From; cursor <= op.To; {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		page, err := e.local.Range(ctx, op.Host, op.Tag, cursor, e.pageSize(cursor, op.To))
		if err != nil {
			return sent, fmt.Errorf("read local page at %d: %w", cursor, err)
		}
		if len(page) == 0 {
			return sent, nil
		}

		var res record.PushResult
		err = e.retry(ctx, func() error {
			var err error
			res, err = e.remote.Push(ctx, page)
			return err
		})
		if err != nil {
			return sent, fmt.Errorf("upload page at %d: %w", cursor, err)
		}
		// Records before the first rejection were stored.
		sent += res.Accepted
		if len(res.Rejected) > 0 {
			return sent, fmt.Errorf("upload page at %d: %w", cursor, res.Rejected[0].Err())
		}

		cursor = page[len(page)-1].Idx + 1
	}
	return sent, nil
}

func (e *Engine) download(ctx context.Context, op Operation) (int, []record.Record[record.Encrypted], error) {
	var (
		applied int
		pulled  []record.Record[record.Encrypted]
	)
	for cursor := op.From; cursor <= op.To; {
		if err := ctx.Err(); err != nil {
			return applied, pulled, err
		}

		var page []record.Record[record.Encrypted]
		err := e.retry(ctx, func() error {
			var err error
			page, err = e.remote.Next(ctx, op.Host, op.Tag, cursor, e.pageSize(cursor, op.To))
			return err
		})
		if err != nil {
			return applied, pulled, fmt.Errorf("download page at %d: %w", cursor, err)
		}
		if len(page) == 0 {
			return applied, pulled, nil
		}
		if page[0].Idx != cursor {
			return applied, pulled, fmt.Errorf("download page at %d: relay returned idx %d: %w", cursor, page[0].Idx, record.ErrNonContiguousIdx)
		}

		inserted, err := e.local.PushBatch(ctx, page)
		if err != nil {
			return applied, pulled, fmt.Errorf("apply page at %d: %w", cursor, err)
		}

		applied += inserted
		if inserted > 0 {
			pulled = append(pulled, page...)
		}
		cursor = page[len(page)-1].Idx + 1
	}
	return applied, pulled, nil
}

func (e *Engine) pageSize(cursor, to record.Idx) int {
	if remaining := int(to-cursor) + 1; remaining < e.opts.PageSize {
		return remaining
	}
	return e.opts.PageSize
}

func (e *Engine) remoteStatus(ctx context.Context) (record.Status, error) {
	var status record.Status
	err := e.retry(ctx, func() error {
		var err error
		status, err = e.remote.Status(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("remote status: %w", err)
	}
	return status, nil
}

// retry runs fn until it succeeds, fails with anything but ErrTransport, or
// the retry budget is spent. The wait doubles after every attempt.
func (e *Engine) retry(ctx context.Context, fn func() error) error {
	wait := e.opts.Backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrTransport) || attempt >= e.opts.Retries {
			return err
		}

		slog.Debug("retrying after transport failure", "attempt", attempt+1, "wait", wait, "error", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
}

func sortStreamErrors(errs []*StreamError) {
	sort.Slice(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Host != b.Host {
			return a.Host.String() < b.Host.String()
		}
		return a.Tag < b.Tag
	})
}
