package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := PluginPath(t.TempDir(), "ABC-123")
	l, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))
}

func TestAcquirePIDLockHeld(t *testing.T) {
	t.Parallel()

	lockPath := PluginPath(t.TempDir(), "ABC-123")
	first, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts too.
	_, err = AcquirePIDLock(lockPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHeld))
	var held *HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, os.Getpid(), held.PID)

	require.NoError(t, first.Release())
	second, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := AcquirePIDLock(filepath.Join(t.TempDir(), "x.lock"))
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	var nilLock *PIDLock
	assert.NoError(t, nilLock.Release())
}

func TestPluginPathSanitizes(t *testing.T) {
	t.Parallel()

	p := PluginPath("/locks", "../../etc/passwd")
	assert.Equal(t, "/locks", filepath.Dir(p))
	assert.Equal(t, "plugin-______etc_passwd.lock", filepath.Base(p))
	assert.Equal(t, DefaultDir(), filepath.Dir(PluginPath("", "u")))
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := AcquirePIDLock("")
	assert.Error(t, err)
}
