package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "relfs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveRootIsSynthetic(t *testing.T) {
	s := newTestStore(t)

	id, err := s.ResolveID("/")
	require.NoError(t, err)
	assert.Equal(t, RootID, id)

	info, err := s.ResolveInfo("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveMissingPathIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ResolveID("/nope")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, err.(*Error).Code)
}

func TestInsertAndResolvePath(t *testing.T) {
	s := newTestStore(t)

	fileID, err := s.InsertFileRow(nil, 0, 0)
	require.NoError(t, err)

	id, err := s.InsertPathRow("/a", RootID, 0, 0, os.ModeDir|0755, 0)
	require.NoError(t, err)

	_, err = s.InsertPathRow("/a/f", id, 0, 0, 0644, fileID)
	require.NoError(t, err)

	info, err := s.ResolveInfo("/a/f")
	require.NoError(t, err)
	assert.Equal(t, fileID, info.FileID)
	assert.Equal(t, "f", info.Name)
}

func TestInsertDuplicatePathIsExists(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertPathRow("/a", RootID, 0, 0, os.ModeDir|0755, 0)
	require.NoError(t, err)

	_, err = s.InsertPathRow("/a", RootID, 0, 0, os.ModeDir|0755, 0)
	require.Error(t, err)
	assert.Equal(t, CodeExists, err.(*Error).Code)
}

// TestNlinkInvariant exercises spec.md §8 invariant 2/3: nlink tracks the
// count of referencing paths rows, and the files row disappears once the
// count reaches zero.
func TestNlinkInvariant(t *testing.T) {
	s := newTestStore(t)

	fileID, err := s.InsertFileRow([]byte("hello"), 0, 5)
	require.NoError(t, err)

	idA, err := s.InsertPathRow("/f", RootID, 0, 0, 0644, fileID)
	require.NoError(t, err)
	idB, err := s.InsertPathRow("/g", RootID, 0, 0, 0644, fileID)
	require.NoError(t, err)
	require.NoError(t, s.AddRef(fileID))

	var nlink int64
	require.NoError(t, s.db.QueryRow(`SELECT nlink FROM files WHERE id = ?`, fileID).Scan(&nlink))
	assert.Equal(t, int64(2), nlink)

	require.NoError(t, s.DeletePathRow(idA))
	require.NoError(t, s.DropRef(fileID))

	require.NoError(t, s.db.QueryRow(`SELECT nlink FROM files WHERE id = ?`, fileID).Scan(&nlink))
	assert.Equal(t, int64(1), nlink)

	require.NoError(t, s.DeletePathRow(idB))
	require.NoError(t, s.DropRef(fileID))

	err = s.db.QueryRow(`SELECT nlink FROM files WHERE id = ?`, fileID).Scan(&nlink)
	assert.Error(t, err, "files row should be gone once nlink reaches zero")
}

// TestDeletePathRowTxAndDropRefTxCommitTogether guards against the
// connection-pool deadlock a non-tx-bound statement would hit here: Store
// opens with a single-connection pool (see Open), so once BeginTx checks
// that connection out, only tx-bound statements can run against it until
// the transaction ends.
func TestDeletePathRowTxAndDropRefTxCommitTogether(t *testing.T) {
	s := newTestStore(t)

	fileID, err := s.InsertFileRow([]byte("hello"), 0, 5)
	require.NoError(t, err)
	pathID, err := s.InsertPathRow("/f", RootID, 0, 0, 0644, fileID)
	require.NoError(t, err)

	tx, err := s.BeginTx()
	require.NoError(t, err)

	require.NoError(t, s.DeletePathRowTx(tx, pathID))
	require.NoError(t, s.DropRefTx(tx, fileID))
	require.NoError(t, tx.Commit())

	_, err = s.ResolveID("/f")
	assert.Error(t, err, "/f should no longer resolve once its paths row is committed deleted")

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM files WHERE id = ?`, fileID).Scan(&count))
	assert.Equal(t, 0, count, "files row should be gone once nlink reaches zero")
}

func TestDeletePathRowTxRollsBackOnAbort(t *testing.T) {
	s := newTestStore(t)

	fileID, err := s.InsertFileRow([]byte("hello"), 0, 5)
	require.NoError(t, err)
	pathID, err := s.InsertPathRow("/f", RootID, 0, 0, 0644, fileID)
	require.NoError(t, err)

	tx, err := s.BeginTx()
	require.NoError(t, err)
	require.NoError(t, s.DeletePathRowTx(tx, pathID))
	require.NoError(t, tx.Rollback())

	id, err := s.ResolveID("/f")
	require.NoError(t, err, "/f should still resolve after the transaction deleting it was rolled back")
	assert.Equal(t, pathID, id)
}

func TestListChildrenAndCount(t *testing.T) {
	s := newTestStore(t)

	dirID, err := s.InsertPathRow("/d", RootID, 0, 0, os.ModeDir|0755, 0)
	require.NoError(t, err)

	for _, name := range []string{"/d/a", "/d/b", "/d/c"} {
		fileID, err := s.InsertFileRow(nil, 0, 0)
		require.NoError(t, err)
		_, err = s.InsertPathRow(name, dirID, 0, 0, 0644, fileID)
		require.NoError(t, err)
	}

	count, err := s.CountChildren(dirID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	children, err := s.ListChildren(dirID, 0)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, "a", children[0].Name)
}

func TestRewriteDescendantsOnDirectoryRename(t *testing.T) {
	s := newTestStore(t)

	dirID, err := s.InsertPathRow("/d", RootID, 0, 0, os.ModeDir|0755, 0)
	require.NoError(t, err)
	fileID, err := s.InsertFileRow(nil, 0, 0)
	require.NoError(t, err)
	_, err = s.InsertPathRow("/d/x", dirID, 0, 0, 0644, fileID)
	require.NoError(t, err)

	tx, err := s.BeginTx()
	require.NoError(t, err)
	require.NoError(t, s.RewriteDescendants(tx, "/d", "/e", RootID))
	require.NoError(t, tx.Commit())

	_, err = s.ResolveID("/d/x")
	assert.Error(t, err, "old descendant path should no longer resolve")

	info, err := s.ResolveInfo("/e/x")
	require.NoError(t, err)
	assert.Equal(t, fileID, info.FileID)
}
