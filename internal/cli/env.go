package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/client"
	"github.com/roach88/histsync/internal/config"
	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/history"
	"github.com/roach88/histsync/internal/journal"
	"github.com/roach88/histsync/internal/lock"
	"github.com/roach88/histsync/internal/maintenance"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
	"github.com/roach88/histsync/internal/store"
	"github.com/roach88/histsync/internal/syncer"
)

// env is the opened local state of one device.
type env struct {
	cfg     *config.Config
	store   *store.Store
	history *history.DB
	key     envelope.Key
	host    record.HostID
}

// openEnv opens the record store and the history table and loads the host
// id and key. The host id is created on first use; the key only when the
// record store is still empty.
func openEnv(cfg *config.Config) (*env, error) {
	host, err := record.LoadOrCreateHostID(cfg.Client.HostIDPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load host id", err)
	}

	st, err := store.Open(cfg.Client.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open record store", err)
	}
	key, err := loadKey(st, cfg.Client.KeyPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	hist, err := history.Open(cfg.Client.HistoryDBPath)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open history database", err)
	}
	slog.Debug("opened local state", "db", cfg.Client.DBPath, "host", host.String())
	return &env{cfg: cfg, store: st, history: hist, key: key, host: host}, nil
}

// loadKey reads the key at path. A missing key is generated only when st
// holds no records; otherwise existing records would become unreadable.
func loadKey(st *store.Store, path string) (envelope.Key, error) {
	key, err := envelope.LoadKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, envelope.ErrNoKey) {
		return envelope.Key{}, WrapExitError(ExitCommandError, "failed to load key", err)
	}

	n, cerr := st.Count(context.Background())
	if cerr != nil {
		return envelope.Key{}, WrapExitError(ExitCommandError, "failed to open record store", cerr)
	}
	if n > 0 {
		return envelope.Key{}, WrapExitError(ExitCommandError,
			fmt.Sprintf("no key at %s but the record store holds %d records; restore the key or run 'key generate'", path, n), err)
	}

	key, err = envelope.GenerateKey()
	if err != nil {
		return envelope.Key{}, WrapExitError(ExitCommandError, "failed to generate key", err)
	}
	if err := envelope.SaveKey(path, key, false); err != nil {
		return envelope.Key{}, WrapExitError(ExitCommandError, "failed to save key", err)
	}
	slog.Info("generated new encryption key", "path", path)
	return key, nil
}

func (e *env) Close() error {
	herr := e.history.Close()
	if err := e.store.Close(); err != nil {
		return err
	}
	return herr
}

func (e *env) lockPath() string {
	return lock.PathFor(e.cfg.Client.DBPath)
}

// builders returns a fresh builder for every known tag. Only the history
// builder persists its state.
func (e *env) builders() builder.Set {
	return builder.NewSet(
		builder.NewHistoryBuilder(e.history),
		builder.NewAliasBuilder(),
		builder.NewScriptBuilder(),
		builder.NewKVBuilder(),
		builder.NewEventBuilder(),
	)
}

func (e *env) journal() *journal.Journal {
	return journal.New(e.store, e.host, e.key)
}

func (e *env) maintenance() *maintenance.Service {
	return maintenance.New(e.store, e.key, e.builders(), e.lockPath())
}

func (e *env) engine() (*syncer.Engine, error) {
	c := e.cfg.Client
	remote, err := client.New(c.SyncAddress, c.Token, client.Options{
		Timeout:        c.Timeout.Duration,
		ConnectTimeout: c.ConnectTimeout.Duration,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid sync address", err)
	}
	return syncer.New(e.store, remote, syncer.Options{
		PageSize: c.PageSize,
		Workers:  c.Workers,
		Retries:  retries(c.Retries),
		Backoff:  c.Backoff.Duration,
	}), nil
}

// retries maps the config value, where 0 means "no retries", onto
// syncer.Options, where 0 means the default.
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// append writes op to this device's stream and folds it into the history
// table when it is a history operation.
func (e *env) append(ctx context.Context, op payload.Operation) (record.Record[record.Encrypted], error) {
	l, err := lock.Shared(e.lockPath())
	if err != nil {
		return record.Record[record.Encrypted]{}, err
	}
	defer releaseLock(l)

	rec, err := e.journal().Append(ctx, op)
	if err != nil {
		return rec, err
	}
	if rec.Tag == record.TagHistory {
		if _, err := builder.Extend(ctx, e.key, builder.NewHistoryBuilder(e.history), []record.Record[record.Encrypted]{rec}); err != nil {
			return rec, fmt.Errorf("update history: %w", err)
		}
	}
	return rec, nil
}

// materialize builds the in-memory state of b from the local store.
func (e *env) materialize(ctx context.Context, b builder.Builder) error {
	report, err := builder.Build(ctx, e.store, e.key, b)
	if err != nil {
		return err
	}
	if len(report.Skipped) > 0 {
		slog.Warn("skipped records while building", "tag", report.Tag, "skipped", len(report.Skipped))
	}
	return nil
}

func releaseLock(l *lock.Lock) {
	if err := l.Release(); err != nil {
		slog.Error("release lock", "error", err)
	}
}

// errorCode classifies err for CLI error output.
func errorCode(err error) string {
	switch {
	case errors.Is(err, lock.ErrLocked):
		return "LOCKED"
	case errors.Is(err, envelope.ErrNoKey):
		return "NO_KEY"
	case errors.Is(err, envelope.ErrAuthentication):
		return "AUTHENTICATION"
	case errors.Is(err, client.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, syncer.ErrDivergedStream):
		return "DIVERGED_STREAM"
	case errors.Is(err, syncer.ErrTransport):
		return string(syncer.CodeTransport)
	case errors.Is(err, record.ErrStorageUnavailable):
		return string(record.CodeStorage)
	case errors.Is(err, record.ErrRecordTooLarge):
		return string(record.CodeRecordTooLarge)
	case errors.Is(err, payload.ErrUnknownTag):
		return "UNKNOWN_TAG"
	case GetExitCode(err) == ExitCommandError:
		return "COMMAND_ERROR"
	default:
		return "FAILURE"
	}
}
