package nsops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relfs/relfs/internal/metaops"
	"github.com/relfs/relfs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*Ops, *metaops.Ops) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "relfs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, 022, 0644, 0755), metaops.New(s)
}

func TestMkdirThenRmdir(t *testing.T) {
	ns, meta := newTestEnv(t)

	require.NoError(t, ns.Mkdir("/a", 0755, 0, 0))

	st, err := meta.GetAttr("/a")
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, int64(1), st.Nlink)

	require.NoError(t, ns.Rmdir("/a"))
	_, err = meta.GetAttr("/a")
	assert.Error(t, err, "state should match pre-mkdir after rmdir")
}

func TestMknodLinkUnlink(t *testing.T) {
	ns, meta := newTestEnv(t)
	require.NoError(t, ns.Mkdir("/a", 0755, 0, 0))
	require.NoError(t, ns.Mknod("/a/f", 0644, 0, 0, 0))

	require.NoError(t, ns.Link("/a/f", "/a/g"))
	stG, err := meta.GetAttr("/a/g")
	require.NoError(t, err)

	require.NoError(t, ns.Unlink("/a/f"))
	_, err = meta.GetAttr("/a/g")
	require.NoError(t, err, "/a/g should still resolve after /a/f is unlinked")

	require.NoError(t, ns.Unlink("/a/g"))

	var count int
	require.NoError(t, meta.Store.DB().QueryRow(`SELECT COUNT(*) FROM files WHERE id = ?`, stG.FileID).Scan(&count))
	assert.Equal(t, 0, count, "no files row should remain with the original id")
}

func TestSymlinkAndReadlink(t *testing.T) {
	ns, _ := newTestEnv(t)
	require.NoError(t, ns.Mkdir("/a", 0755, 0, 0))
	require.NoError(t, ns.Mknod("/a/f", 0644, 0, 0, 0))
	require.NoError(t, ns.Symlink("/a/f", "/a/s", 0, 0))

	target, err := ns.Readlink("/a/s")
	require.NoError(t, err)
	assert.Equal(t, "/a/f", target)
}

func TestRmdirNonEmptyFailsEnotempty(t *testing.T) {
	ns, _ := newTestEnv(t)
	require.NoError(t, ns.Mkdir("/d", 0755, 0, 0))
	require.NoError(t, ns.Mknod("/d/x", 0644, 0, 0, 0))

	err := ns.Rmdir("/d")
	require.Error(t, err)
	assert.Equal(t, store.CodeNotEmpty, err.(*store.Error).Code)

	require.NoError(t, ns.Unlink("/d/x"))
	require.NoError(t, ns.Rmdir("/d"))
}

func TestRenameDirectoryRewritesDescendants(t *testing.T) {
	ns, meta := newTestEnv(t)
	require.NoError(t, ns.Mkdir("/d", 0755, 0, 0))
	require.NoError(t, ns.Mknod("/d/x", 0644, 0, 0, 0))

	require.NoError(t, ns.Rename("/d", "/e"))

	_, err := meta.GetAttr("/d/x")
	assert.Error(t, err)

	st, err := meta.GetAttr("/e/x")
	require.NoError(t, err)
	assert.False(t, st.IsDir())
}

func TestMkdirAndMknodApplyUmaskAndModeCeiling(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "relfs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ns := New(s, 0022, 0644, 0755)
	meta := metaops.New(s)

	require.NoError(t, ns.Mkdir("/d", 0777, 0, 0))
	st, err := meta.GetAttr("/d")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), st.Mode.Perm(), "umask 0022 should clear group/other write from a 0777 mkdir request")

	require.NoError(t, ns.Mknod("/d/f", 0666, 0, 0, 0))
	st, err = meta.GetAttr("/d/f")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), st.Mode.Perm(), "umask 0022 should clear group/other write from a 0666 mknod request")
}

func TestRenameOverExistingFileUnlinksTarget(t *testing.T) {
	ns, meta := newTestEnv(t)
	require.NoError(t, ns.Mknod("/a", 0644, 0, 0, 0))
	require.NoError(t, ns.Mknod("/b", 0644, 0, 0, 0))

	require.NoError(t, ns.Rename("/a", "/b"))

	_, err := meta.GetAttr("/a")
	assert.Error(t, err)
	_, err = meta.GetAttr("/b")
	require.NoError(t, err)
}
