package registry

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLockDir_Claim(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewLockDir(zaptest.NewLogger(t), dir)
	second := NewLockDir(zaptest.NewLogger(t), dir)

	ok, err := first.Claim(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	// claiming again from the same owner is a no-op
	ok, err = first.Claim(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Claim(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok, "id held by another owner must not be claimed")

	ok, err = second.Claim(ctx, 43)
	require.NoError(t, err)
	assert.True(t, ok)

	held, err := IsHeld(LockPath(dir, 42))
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, first.Close(ctx))
	_, err = os.Stat(LockPath(dir, 42))
	assert.True(t, os.IsNotExist(err), "lock file must be removed on close")

	ok, err = second.Claim(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, second.Close(ctx))
}

func TestLockDir_WritesPID(t *testing.T) {
	dir := t.TempDir()
	l := NewLockDir(zaptest.NewLogger(t), dir)
	defer l.Close(context.Background())

	ok, err := l.Claim(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(LockPath(dir, 7))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
}

func TestIsHeld_StaleFile(t *testing.T) {
	dir := t.TempDir()
	path := LockPath(dir, 9)
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0644))

	held, err := IsHeld(path)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestIsHeld_Missing(t *testing.T) {
	_, err := IsHeld(LockPath(t.TempDir(), 1))
	assert.True(t, os.IsNotExist(err))
}

func TestLockDir_ReleaseRace(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := LockPath(dir, 5)

	a := NewLockDir(zaptest.NewLogger(t), dir)
	ok, err := a.Claim(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)

	// b opens the path, then a releases before b locks
	b, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close(ctx))

	held, current, err := lockOpened(b, path)
	require.NoError(t, err)
	assert.False(t, held)
	assert.False(t, current, "lock on an unlinked inode must not count as a claim")

	c := NewLockDir(zaptest.NewLogger(t), dir)
	defer c.Close(ctx)
	ok, err = c.Claim(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	// any later claimant loses to c
	d := NewLockDir(zaptest.NewLogger(t), dir)
	defer d.Close(ctx)
	ok, err = d.Claim(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockFile_RetriesReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := LockPath(dir, 8)
	require.NoError(t, os.WriteFile(path, nil, 0644))

	f, ok, err := lockFile(path)
	require.NoError(t, err)
	require.True(t, ok)
	defer f.Close()

	current, err := isCurrent(f, path)
	require.NoError(t, err)
	assert.True(t, current)

	require.NoError(t, os.Remove(path))
	current, err = isCurrent(f, path)
	require.NoError(t, err)
	assert.False(t, current)
}

func TestRemoveIfStale(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	live := NewLockDir(zaptest.NewLogger(t), dir)
	defer live.Close(ctx)
	ok, err := live.Claim(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := RemoveIfStale(LockPath(dir, 1))
	require.NoError(t, err)
	assert.False(t, removed)
	assert.FileExists(t, LockPath(dir, 1))

	stale := LockPath(dir, 2)
	require.NoError(t, os.WriteFile(stale, []byte("1\n"), 0644))

	// a claimant that opened the stale file just before cleanup
	late, err := os.OpenFile(stale, os.O_RDWR, 0)
	require.NoError(t, err)
	defer late.Close()

	removed, err = RemoveIfStale(stale)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoFileExists(t, stale)

	held, current, err := lockOpened(late, stale)
	require.NoError(t, err)
	assert.False(t, held)
	assert.False(t, current, "claimant must not keep a lock on a removed file")

	ok, err = live.Claim(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}
