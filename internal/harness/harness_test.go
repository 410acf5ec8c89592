package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_GoldenScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		scenario, err := LoadScenario(f)
		require.NoError(t, err)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/bidirectional_sync.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: "expect clause that does not hold"
devices:
  - name: a
flow:
  - device: a
    do: history.add
    args: { command: "ls" }
    expect: { idx: 3 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected idx=3, got 0")
}

func TestRun_AssertionFailures(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: failing_assertions
description: "assertions that do not hold"
devices:
  - name: a
  - name: b
flow:
  - device: a
    do: history.add
    args: { command: "ls" }
  - device: a
    do: kv.set
    args: { key: editor, value: vim }
assertions:
  - type: history_count
    device: b
    count: 1
  - type: history_contains
    device: a
    command: "pwd"
  - type: kv
    device: a
    name: editor
    value: helix
  - type: alias
    device: a
    name: g
    value: git
  - type: stream_tail
    device: b
    host: a
    tag: history
    idx: 0
  - type: status_match
    devices: [a]
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "history_count")
	assert.Contains(t, result.Errors[1], `command "pwd"`)
	assert.Contains(t, result.Errors[2], `"vim"`)
	assert.Contains(t, result.Errors[3], "absent")
	assert.Contains(t, result.Errors[4], "Actual: absent")
	assert.Contains(t, result.Errors[5], "status_match")
}

func TestRun_AbsentValues(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: deleted_values
description: "deleted alias and kv entries are absent after rebuild"
devices:
  - name: a
flow:
  - device: a
    do: alias.set
    args: { name: g, value: git }
  - device: a
    do: alias.delete
    args: { name: g }
  - device: a
    do: kv.set
    args: { namespace: work, key: editor, value: code }
  - device: a
    do: kv.delete
    args: { namespace: work, key: editor }
  - device: a
    do: history.add
    args: { id: "fixed-1", command: "rm -rf build" }
  - device: a
    do: history.delete
    args: { id: "fixed-1" }
    expect: { tag: history, idx: 1 }
assertions:
  - type: alias
    device: a
    name: g
  - type: kv
    device: a
    namespace: work
    name: editor
  - type: history_count
    device: a
    count: 0
  - type: stream_tail
    device: a
    host: a
    tag: script
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %s", strings.Join(result.Errors, "\n"))
	assert.Equal(t, map[string]uint64{"a/alias": 1, "a/history": 1, "a/kv": 1}, result.Streams["a"])
}

func TestMatchExpect(t *testing.T) {
	outcome := map[string]any{"uploaded": 2, "failed_codes": []string{"a/history:RECORD_TOO_LARGE"}}

	assert.Empty(t, matchExpect(map[string]any{"uploaded": 2}, outcome))
	assert.Empty(t, matchExpect(map[string]any{"failed_codes": []any{"a/history:RECORD_TOO_LARGE"}}, outcome))
	assert.Equal(t, []string{"expected downloaded=1, not in outcome", "expected uploaded=3, got 2"},
		matchExpect(map[string]any{"uploaded": 3, "downloaded": 1}, outcome))
}
