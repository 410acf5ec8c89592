package cli

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/maintenance"
	"github.com/roach88/histsync/internal/payload"
)

func TestHistory_AddListDelete(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))

	id := d.mustRun("history", "add", "--exit", "1", "--cwd", "/tmp", "--", "make", "test")
	d.mustRun("history", "add", "--", "git", "status")

	entries := decodeData[[]payload.HistoryEntry](t, d.mustRun("--format", "json", "history", "list"))
	require.Len(t, entries, 2)
	assert.Equal(t, "git status", entries[0].Command)
	assert.Equal(t, "make test", entries[1].Command)
	assert.Equal(t, int64(1), entries[1].Exit)
	assert.Equal(t, "/tmp", entries[1].Cwd)

	d.mustRun("history", "delete", entries[1].ID)
	entries = decodeData[[]payload.HistoryEntry](t, d.mustRun("--format", "json", "history", "list"))
	require.Len(t, entries, 1)
	assert.Equal(t, "git status", entries[0].Command)
	assert.NotEmpty(t, id)
}

func TestRebuild_History(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))
	d.mustRun("history", "add", "--", "ls")
	d.mustRun("history", "add", "--", "pwd")

	// Drop the derived table; rebuild restores it from the log.
	files, err := filepath.Glob(filepath.Join(d.dir, "history.db*"))
	require.NoError(t, err)
	for _, f := range files {
		require.NoError(t, os.Remove(f))
	}

	report := decodeData[builder.Report](t, d.mustRun("--format", "json", "rebuild", "history"))
	assert.Equal(t, 2, report.Applied)
	assert.Empty(t, report.Skipped)

	entries := decodeData[[]payload.HistoryEntry](t, d.mustRun("--format", "json", "history", "list"))
	assert.Len(t, entries, 2)
}

func TestRebuild_UnknownTag(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))
	_, stderr, code := d.run("rebuild", "nope")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "no builder for tag")
}

func TestKV_SetGetDelete(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))

	d.mustRun("kv", "set", "editor", "vim")
	d.mustRun("kv", "set", "editor", "helix")
	d.mustRun("kv", "--namespace", "work", "set", "editor", "code")

	assert.Equal(t, "helix\n", d.mustRun("kv", "get", "editor"))
	assert.Equal(t, "code\n", d.mustRun("kv", "--namespace", "work", "get", "editor"))

	d.mustRun("kv", "delete", "editor")
	_, _, code := d.run("kv", "get", "editor")
	assert.Equal(t, ExitFailure, code)

	keys := decodeData[[]string](t, d.mustRun("--format", "json", "kv", "--namespace", "work", "list"))
	assert.Equal(t, []string{"editor"}, keys)
}

func TestAlias_SetDeleteList(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))

	d.mustRun("alias", "set", "gs", "git status")
	d.mustRun("alias", "set", "ll", "ls -la")
	d.mustRun("alias", "delete", "gs")

	assert.Equal(t, "alias ll=\"ls -la\"\n", d.mustRun("alias", "list"))
}

func TestVerifyPurge_AfterKeyLoss(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))
	d.mustRun("history", "add", "--", "echo", "old")

	d.mustRun("key", "generate", "--force")
	d.mustRun("alias", "set", "k", "kubectl")

	stdout, _, code := d.run("--format", "json", "verify")
	assert.Equal(t, ExitFailure, code)
	report := decodeData[maintenance.VerifyReport](t, stdout)
	assert.Equal(t, 1, report.OK)
	assert.Equal(t, 1, report.Failed)

	purged := decodeData[map[string]int](t, d.mustRun("--format", "json", "purge"))
	assert.Equal(t, 1, purged["purged"])

	report = decodeData[maintenance.VerifyReport](t, d.mustRun("--format", "json", "verify"))
	assert.Equal(t, 1, report.OK)
	assert.Zero(t, report.Failed)
}

func TestMissingKey_RefusesToRun(t *testing.T) {
	relay := newTestRelay(t)
	key := testKey(t)
	d := newDevice(t, relay.URL, key)
	d.mustRun("history", "add", "--", "ls")
	d.mustRun("history", "add", "--", "pwd")
	d.mustRun("alias", "set", "g", "git")

	keyPath := filepath.Join(d.dir, "key")
	require.NoError(t, os.Remove(keyPath))

	for _, args := range [][]string{{"purge"}, {"sync"}, {"verify"}, {"history", "add", "--", "id"}} {
		_, stderr, code := d.run(args...)
		assert.Equal(t, ExitCommandError, code, "%v", args)
		assert.Contains(t, stderr, "NO_KEY", "%v", args)
	}
	assert.NoFileExists(t, keyPath)

	require.NoError(t, envelope.SaveKey(keyPath, key, false))
	report := decodeData[maintenance.VerifyReport](t, d.mustRun("--format", "json", "verify"))
	assert.Equal(t, 3, report.OK)
	assert.Zero(t, report.Failed)
}

func TestMissingKey_CreatedOnFirstRun(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))
	keyPath := filepath.Join(d.dir, "key")
	require.NoError(t, os.Remove(keyPath))

	d.mustRun("history", "add", "--", "ls")
	assert.FileExists(t, keyPath)

	report := decodeData[maintenance.VerifyReport](t, d.mustRun("--format", "json", "verify"))
	assert.Equal(t, 1, report.OK)
}

func TestKeyGenerate_RefusesOverwrite(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))
	_, stderr, code := d.run("key", "generate")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "--force")
}

func TestRekey(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))
	d.mustRun("history", "add", "--", "ls")
	d.mustRun("alias", "set", "g", "git")
	before := d.mustRun("key", "show")

	d.mustRun("rekey")

	after := d.mustRun("key", "show")
	assert.NotEqual(t, before, after)
	_, err := os.Stat(filepath.Join(d.dir, "key.new"))
	assert.True(t, os.IsNotExist(err))

	report := decodeData[maintenance.VerifyReport](t, d.mustRun("--format", "json", "verify"))
	assert.Equal(t, 2, report.OK)
	assert.Equal(t, "alias g=\"git\"\n", d.mustRun("alias", "list"))
}

func TestRekey_RefusesWhenUndecryptable(t *testing.T) {
	d := newDevice(t, "http://127.0.0.1:1", testKey(t))
	d.mustRun("history", "add", "--", "ls")
	d.mustRun("key", "generate", "--force")
	before := d.mustRun("key", "show")

	_, stderr, code := d.run("rekey")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "rekey failed")
	assert.Equal(t, before, d.mustRun("key", "show"), "key file untouched")
}

func TestSync_TwoDevices(t *testing.T) {
	relay := newTestRelay(t)
	key := testKey(t)
	a := newDevice(t, relay.URL, key)
	b := newDevice(t, relay.URL, key)

	a.mustRun("history", "add", "--", "cargo", "build")
	a.mustRun("history", "add", "--", "cargo", "test")
	a.mustRun("alias", "set", "cb", "cargo build")
	b.mustRun("history", "add", "--", "npm", "ci")

	res := decodeData[syncResult](t, a.mustRun("--format", "json", "sync"))
	assert.Equal(t, 3, res.Uploaded)
	assert.Zero(t, res.Downloaded)

	res = decodeData[syncResult](t, b.mustRun("--format", "json", "sync"))
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 3, res.Downloaded)
	assert.Equal(t, 2, res.Applied)
	assert.Empty(t, res.Diverged)

	entries := decodeData[[]payload.HistoryEntry](t, b.mustRun("--format", "json", "history", "list"))
	assert.Len(t, entries, 3)
	assert.Equal(t, "alias cb=\"cargo build\"\n", b.mustRun("alias", "list"))

	res = decodeData[syncResult](t, a.mustRun("--format", "json", "pull"))
	assert.Equal(t, 1, res.Downloaded)
	entries = decodeData[[]payload.HistoryEntry](t, a.mustRun("--format", "json", "history", "list"))
	assert.Len(t, entries, 3)
}

func TestStatus_Remote(t *testing.T) {
	relay := newTestRelay(t)
	d := newDevice(t, relay.URL, testKey(t))
	d.mustRun("history", "add", "--", "ls")
	d.mustRun("history", "add", "--", "ls", "-la")

	st := decodeData[statusResult](t, d.mustRun("--format", "json", "status", "--remote"))
	require.Len(t, st.Streams, 1)
	assert.Equal(t, 2, st.Streams[0].Count)
	assert.True(t, st.Streams[0].Current)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, "upload", st.Pending[0].Direction)
	assert.Equal(t, uint64(1), st.Pending[0].To)

	d.mustRun("push")
	st = decodeData[statusResult](t, d.mustRun("--format", "json", "status", "--remote"))
	assert.Empty(t, st.Pending)
}

func TestSync_UnreachableRelay(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	d := newDevice(t, url, testKey(t))
	d.mustRun("history", "add", "--", "ls")

	_, stderr, code := d.run("sync")
	assert.NotEqual(t, ExitSuccess, code)
	assert.Contains(t, stderr, "TRANSPORT_FAILURE")
}

func TestSync_WrongToken(t *testing.T) {
	relay := newTestRelay(t)
	d := newDevice(t, relay.URL, testKey(t))
	cfg, err := os.ReadFile(d.cfgPath)
	require.NoError(t, err)
	cfg = []byte(strings.Replace(string(cfg), testToken, "tok-mallory", 1))
	require.NoError(t, os.WriteFile(d.cfgPath, cfg, 0o600))

	_, stderr, code := d.run("push")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "UNAUTHORIZED")
}
