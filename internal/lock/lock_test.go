//go:build unix

package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockPath(t *testing.T) string {
	return PathFor(filepath.Join(t.TempDir(), "records.db"))
}

func TestShared_Coexist(t *testing.T) {
	path := lockPath(t)

	a, err := Shared(path)
	require.NoError(t, err)
	defer a.Release()
	b, err := Shared(path)
	require.NoError(t, err)
	defer b.Release()
}

func TestExclusive_ExcludesShared(t *testing.T) {
	path := lockPath(t)

	ex, err := Exclusive(path)
	require.NoError(t, err)

	_, err = Shared(path)
	assert.ErrorIs(t, err, ErrLocked)
	_, err = Exclusive(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, ex.Release())
	sh, err := Shared(path)
	require.NoError(t, err)
	require.NoError(t, sh.Release())
}

func TestShared_ExcludesExclusive(t *testing.T) {
	path := lockPath(t)

	sh, err := Shared(path)
	require.NoError(t, err)
	_, err = Exclusive(path)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, sh.Release())

	ex, err := Exclusive(path)
	require.NoError(t, err)
	require.NoError(t, ex.Release())
}

func TestRelease_Twice(t *testing.T) {
	l, err := Exclusive(lockPath(t))
	require.NoError(t, err)
	require.NoError(t, l.Release())
	assert.NoError(t, l.Release())

	var nilLock *Lock
	assert.NoError(t, nilLock.Release())
}
