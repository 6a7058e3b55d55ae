package metaops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relfs/relfs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOps(t *testing.T) *Ops {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "relfs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestGetAttrRoot(t *testing.T) {
	o := newTestOps(t)

	st, err := o.GetAttr("/")
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, int64(1), st.Nlink)
}

func TestMkdirThenGetAttr(t *testing.T) {
	o := newTestOps(t)

	_, err := o.Store.InsertPathRow("/a", store.RootID, 0, 0, os.ModeDir|0755, 0)
	require.NoError(t, err)

	st, err := o.GetAttr("/a")
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, os.FileMode(0755), st.Mode&os.ModePerm)
}

func TestChmodPreservesTypeBits(t *testing.T) {
	o := newTestOps(t)
	id, err := o.Store.InsertPathRow("/a", store.RootID, 0, 0, os.ModeDir|0755, 0)
	require.NoError(t, err)
	_ = id

	require.NoError(t, o.Chmod("/a", 0700))

	st, err := o.GetAttr("/a")
	require.NoError(t, err)
	assert.True(t, st.IsDir(), "chmod must not clear the directory type bit")
	assert.Equal(t, os.FileMode(0700), st.Mode&os.ModePerm)
}

func TestChownUpdatesPathRow(t *testing.T) {
	o := newTestOps(t)
	_, err := o.Store.InsertPathRow("/a", store.RootID, 0, 0, 0644, 0)
	require.NoError(t, err)

	require.NoError(t, o.Chown("/a", 42, 7))

	st, err := o.GetAttr("/a")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), st.Uid)
	assert.Equal(t, uint32(7), st.Gid)
}

func TestUtimensStoresWholeSeconds(t *testing.T) {
	o := newTestOps(t)
	_, err := o.Store.InsertPathRow("/a", store.RootID, 0, 0, 0644, 0)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	mt := time.Unix(1700000100, 0)
	require.NoError(t, o.Utimens("/a", at, mt))

	st, err := o.GetAttr("/a")
	require.NoError(t, err)
	assert.Equal(t, at.Unix(), st.Atime.Unix())
	assert.Equal(t, mt.Unix(), st.Mtime.Unix())
}

func TestReadDirEnumeratesEveryChildOnce(t *testing.T) {
	o := newTestOps(t)
	dirID, err := o.Store.InsertPathRow("/d", store.RootID, 0, 0, os.ModeDir|0755, 0)
	require.NoError(t, err)
	for _, name := range []string{"/d/a", "/d/b"} {
		fileID, err := o.Store.InsertFileRow(nil, 0, 0)
		require.NoError(t, err)
		_, err = o.Store.InsertPathRow(name, dirID, 0, 0, 0644, fileID)
		require.NoError(t, err)
	}

	handle, err := o.OpenDir("/d")
	require.NoError(t, err)

	entries, err := o.ReadDir("/d", handle, 0)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
	assert.True(t, names["a"])
	assert.True(t, names["b"])
	assert.Len(t, entries, 4)
}
