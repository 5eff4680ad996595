package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_WritesHolderInfo(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "serve")
	require.NoError(t, err)
	defer lock.Release()

	assert.Equal(t, filepath.Join(dir, LockFileName), lock.Path())
	data, err := os.ReadFile(lock.Path())
	require.NoError(t, err)

	info := parseInfo(string(data))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "serve", info.Command)
	assert.WithinDuration(t, time.Now(), info.Started, time.Minute)
}

func TestAcquire_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, "serve")
	require.NoError(t, err)
	defer first.Release()

	second, err := Acquire(dir, "backup")
	require.Error(t, err)
	assert.Nil(t, second)

	var lockErr *LockError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, os.Getpid(), lockErr.Holder.PID, "holder info survives the failed attempt")
	assert.Equal(t, "serve", lockErr.Holder.Command)
	assert.Contains(t, err.Error(), "another OrderPipe process")
	assert.Contains(t, err.Error(), dir)
	assert.Contains(t, err.Error(), "running")
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "serve")
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, lock.Release(), "second release is a no-op")

	var nilLock *Lock
	assert.NoError(t, nilLock.Release())

	again, err := Acquire(dir, "serve")
	require.NoError(t, err)
	assert.NoError(t, again.Release())
}

func TestAcquire_StaleFileIsReused(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	require.NoError(t, os.WriteFile(path, []byte("pid=999999\ncommand=serve\nleftover garbage that is long\n"), 0o644))

	lock, err := Acquire(dir, "seed")
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	info := parseInfo(string(data))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "seed", info.Command)
	assert.NotContains(t, string(data), "garbage")
}

func TestAcquire_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := Acquire(dir, "serve")
	require.NoError(t, err)
	defer lock.Release()

	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestParseInfo(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		content string
		want    Info
	}{
		{"full", "pid=12345\ncommand=serve\nstarted=2026-03-01T08:30:00Z\n", Info{PID: 12345, Command: "serve", Started: started}},
		{"pid only", "pid=67890\n", Info{PID: 67890}},
		{"unknown keys", "pid=1\nother=info\n", Info{PID: 1}},
		{"empty", "", Info{}},
		{"bad pid", "pid=abc\n", Info{}},
		{"negative pid", "pid=-4\n", Info{}},
		{"no equals", "pid12345\n", Info{}},
		{"bad time", "pid=3\nstarted=yesterday\n", Info{PID: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseInfo(tt.content))
		})
	}
}

func TestInfoRoundTrip(t *testing.T) {
	in := Info{PID: 42, Command: "serve", Started: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	assert.Equal(t, in, parseInfo(in.encode()))
}

func TestInfoString(t *testing.T) {
	assert.Equal(t, "unknown holder", Info{}.String())
	assert.Contains(t, Info{PID: os.Getpid(), Command: "serve"}.String(), "(running), command serve")
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, isProcessRunning(os.Getpid()))
}
