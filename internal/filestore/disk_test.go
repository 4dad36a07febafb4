package filestore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiskStore(t *testing.T) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"a.txt", "photo.png", ".hidden", "a b"} {
		assert.NoError(t, ValidName(name), name)
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "x\x00", "a.txt.tmp-3"} {
		assert.ErrorIs(t, ValidName(name), ErrInvalidName, "%q", name)
	}
}

func TestDiskStorePutOpen(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.txt", "1", strings.NewReader("hello world"), 11))

	rc, size, err := s.Open(ctx, "a.txt")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(11), size)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = os.Stat(filepath.Join(s.Dir(), TempName("a.txt", "1")))
	assert.True(t, os.IsNotExist(err), "staging file must be gone after rename")
}

func TestDiskStorePutIgnoresStaleStagingFiles(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()

	// Leftovers of an earlier process that used the same connection token.
	for _, stale := range []string{"a.txt.tmp-1", "a.txt.tmp-0badc0de-1"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), stale), []byte("junk"), 0644))
	}

	require.NoError(t, s.Put(ctx, "a.txt", "1", strings.NewReader("fresh"), 5))
	data, err := os.ReadFile(filepath.Join(s.Dir(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
}

func TestDiskStorePutReplaces(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.txt", "1", strings.NewReader("old"), 3))
	require.NoError(t, s.Put(ctx, "a.txt", "2", strings.NewReader("brand new"), 9))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "brand new", string(data))
}

type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, errors.New("connection reset")
	}
	r.read = true
	return copy(p, r.data), nil
}

func TestDiskStorePutLeavesDestinationOnFailure(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a.txt", "1", strings.NewReader("complete"), 8))

	err := s.Put(ctx, "a.txt", "2", &failingReader{data: "part"}, 100)
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(s.Dir(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "complete", string(data))

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
	_, err = os.Stat(filepath.Join(s.Dir(), TempName("a.txt", "2")))
	assert.True(t, os.IsNotExist(err))
}

func TestDiskStoreShortBody(t *testing.T) {
	s := newDiskStore(t)
	err := s.Put(context.Background(), "a.txt", "1", strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, ErrShortWrite)
	_, _, err = s.Open(context.Background(), "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStoreListHidesStagingAndDirs(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), TempName("c.txt", "9")), []byte("c"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub"), 0755))

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestDiskStoreRemoveRename(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a.txt", "1", strings.NewReader("a"), 1))

	require.NoError(t, s.Rename(ctx, "a.txt", "b.txt"))
	_, _, err := s.Open(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Rename(ctx, "missing", "c.txt"), ErrNotFound)
	assert.ErrorIs(t, s.Rename(ctx, "b.txt", "../escape"), ErrInvalidName)

	require.NoError(t, s.Remove(ctx, "b.txt"))
	assert.ErrorIs(t, s.Remove(ctx, "b.txt"), ErrNotFound)
}

func TestDiskStoreOpenRejectsTraversal(t *testing.T) {
	s := newDiskStore(t)
	_, _, err := s.Open(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidName)
}
