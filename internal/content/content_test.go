package content

import (
	"path/filepath"
	"testing"

	"github.com/relfs/relfs/internal/nsops"
	"github.com/relfs/relfs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*Ops, *nsops.Ops) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "relfs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), nsops.New(s, 0, 0777, 0777)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	c, ns := newTestEnv(t)
	require.NoError(t, ns.Mknod("/f", 0644, 0, 0, 0))

	n, err := c.Write("/f", []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := c.Read("/f", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestGrowOnWriteZeroFillsGap(t *testing.T) {
	c, ns := newTestEnv(t)
	require.NoError(t, ns.Mknod("/f", 0644, 0, 0, 0))

	_, err := c.Write("/f", []byte("abc"), 0)
	require.NoError(t, err)
	_, err = c.Write("/f", []byte("XY"), 5)
	require.NoError(t, err)

	got, err := c.Read("/f", 0, 7)
	require.NoError(t, err)
	require.Len(t, got, 7)
	assert.Equal(t, "abc", string(got[0:3]))
	assert.Equal(t, []byte{0, 0}, got[3:5])
	assert.Equal(t, "XY", string(got[5:7]))
}

func TestInPlaceWriteDoesNotDisturbSurroundingBytes(t *testing.T) {
	c, ns := newTestEnv(t)
	require.NoError(t, ns.Mknod("/f", 0644, 0, 0, 0))
	_, err := c.Write("/f", []byte("aaaaaaaa"), 0)
	require.NoError(t, err)

	_, err = c.Write("/f", []byte("XX"), 3)
	require.NoError(t, err)

	got, err := c.Read("/f", 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "aaaXXaaa", string(got))
}

func TestTruncateShrinkAndZeroExtend(t *testing.T) {
	c, ns := newTestEnv(t)
	require.NoError(t, ns.Mknod("/f", 0644, 0, 0, 0))
	_, err := c.Write("/f", []byte("hello world"), 0)
	require.NoError(t, err)

	require.NoError(t, c.Truncate("/f", 5))
	got, err := c.Read("/f", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, c.Truncate("/f", 8))
	got, err = c.Read("/f", 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got[0:5]))
	assert.Equal(t, []byte{0, 0, 0}, got[5:8])
}

func TestZeroSizeWriteIsNoop(t *testing.T) {
	c, ns := newTestEnv(t)
	require.NoError(t, ns.Mknod("/f", 0644, 0, 0, 0))

	n, err := c.Write("/f", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
