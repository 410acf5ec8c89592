package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/relay"
)

const testToken = "tok-alice"

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	st := relay.NewLevelStorage(db)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(relay.New(st, relay.Config{
		Tokens: map[string]string{testToken: "alice"},
	}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// device is one simulated machine with its own data directory and config.
type device struct {
	t       *testing.T
	dir     string
	cfgPath string
}

func newDevice(t *testing.T, relayURL string, key envelope.Key) *device {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, envelope.SaveKey(filepath.Join(dir, "key"), key, false))

	cfg := fmt.Sprintf(`[client]
db_path = %q
history_db_path = %q
key_path = %q
host_id_path = %q
sync_address = %q
token = %q
retries = 0
backoff = "10ms"
timeout = "5s"

[logging]
level = "error"
`,
		filepath.Join(dir, "records.db"),
		filepath.Join(dir, "history.db"),
		filepath.Join(dir, "key"),
		filepath.Join(dir, "host_id"),
		relayURL,
		testToken,
	)
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return &device{t: t, dir: dir, cfgPath: cfgPath}
}

// run executes the CLI against the device and returns stdout, stderr and
// the exit code.
func (d *device) run(args ...string) (string, string, int) {
	d.t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), append([]string{"--config", d.cfgPath}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

// mustRun executes the CLI and fails the test on a non-zero exit.
func (d *device) mustRun(args ...string) string {
	d.t.Helper()
	stdout, stderr, code := d.run(args...)
	require.Equal(d.t, ExitSuccess, code, "histsync %v failed: %s", args, stderr)
	return stdout
}

type response[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func testKey(t *testing.T) envelope.Key {
	t.Helper()
	k, err := envelope.GenerateKey()
	require.NoError(t, err)
	return k
}
