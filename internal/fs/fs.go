// Package fs is the fuse bridge: it turns jacobsa/fuse's inode-ID based
// callback contract into calls against the path-based internal/metaops,
// internal/nsops and internal/content operations, translating store errors
// into fuse errnos and maintaining the inode ID <-> path translation the
// three operation packages don't need to know about.
package fs

import (
	"os"
	"path"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/relfs/relfs/internal/content"
	"github.com/relfs/relfs/internal/metaops"
	"github.com/relfs/relfs/internal/nsops"
	"github.com/relfs/relfs/internal/store"
)

// ServerConfig configures the mounted file system.
type ServerConfig struct {
	// Path to the sqlite database backing the mount.
	DBPath string

	// The uid/gid given to every inode created through the mount; relfs
	// does not track per-request callers. Existing rows report the owner
	// stored with them.
	Uid uint32
	Gid uint32

	// FileMode and DirMode cap the permission bits stored for newly
	// created regular files and directories; a create request can narrow
	// below these but never widen past them.
	FileMode os.FileMode
	DirMode  os.FileMode

	// Umask is cleared from every mode passed to mkdir/mknod before it
	// is stored.
	Umask os.FileMode
}

// NewServer opens the backing database and returns a fuse.Server ready to
// be handed to fuse.Mount.
func NewServer(cfg ServerConfig) (fuse.Server, error) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	fs := &fileSystem{
		store:   s,
		meta:    metaops.New(s),
		ns:      nsops.New(s, cfg.Umask, cfg.FileMode, cfg.DirMode),
		content: content.New(s),

		uid: cfg.Uid,
		gid: cfg.Gid,

		idToPath:    map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		pathToID:    map[string]fuseops.InodeID{"/": fuseops.RootInodeID},
		lookupCount: map[fuseops.InodeID]uint64{fuseops.RootInodeID: 1},
		nextID:      fuseops.RootInodeID + 1,

		dirHandles:   map[fuseops.HandleID]*dirHandle{},
		nextHandleID: 1,
	}

	return fuseutil.NewFileSystemServer(fs), nil
}

// fileSystem implements fuseutil.FileSystem against internal/store by way
// of internal/metaops, internal/nsops and internal/content. It embeds
// NotImplementedFileSystem so that operations no client exercises (ioctl,
// fallocate, extended attributes) return ENOSYS without needing a stub
// here for each one.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	store   *store.Store
	meta    *metaops.Ops
	ns      *nsops.Ops
	content *content.Ops

	uid, gid uint32

	// mu guards everything below: the inode <-> path translation tables
	// and the open directory handle table. The database itself needs no
	// separate lock; Store serves every request off one sqlite connection
	// and relies on database/sql to serialize access to it.
	mu sync.Mutex

	idToPath    map[fuseops.InodeID]string
	pathToID    map[string]fuseops.InodeID
	lookupCount map[fuseops.InodeID]uint64
	nextID      fuseops.InodeID

	dirHandles   map[fuseops.HandleID]*dirHandle
	nextHandleID fuseops.HandleID
}

// internID returns the inode ID associated with p, minting one if this is
// the first time the kernel has heard of it.
func (fs *fileSystem) internID(p string) fuseops.InodeID {
	if id, ok := fs.pathToID[p]; ok {
		return id
	}
	id := fs.nextID
	fs.nextID++
	fs.pathToID[p] = id
	fs.idToPath[id] = p
	return id
}

// bumpLookup records that the kernel now holds a reference to id, to be
// balanced by a later ForgetInode.
func (fs *fileSystem) bumpLookup(id fuseops.InodeID) {
	fs.lookupCount[id]++
}

func (fs *fileSystem) pathOf(id fuseops.InodeID) string {
	return fs.idToPath[id]
}

func childPath(parent, name string) string {
	return path.Join(parent, name)
}

func attrsFromStat(st store.Stat) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(st.Size),
		Nlink: uint32(st.Nlink),
		Mode:  st.Mode,
		Uid:   st.Uid,
		Gid:   st.Gid,
		Atime: st.Atime,
		Mtime: st.Mtime,
		Ctime: st.Ctime,
	}
}

// Init is a no-op; relfs needs nothing from the kernel's init handshake.
func (fs *fileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

// Destroy closes the backing database. jacobsa/fuse calls this once, with
// no error return, when the mount is torn down.
func (fs *fileSystem) Destroy() {
	fs.store.Close()
}

func (fs *fileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	fs.mu.Unlock()

	p := childPath(parentPath, op.Name)
	info, err := fs.meta.GetAttr(p)
	if err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	id := fs.internID(p)
	fs.bumpLookup(id)
	fs.mu.Unlock()

	op.Entry.Child = id
	op.Entry.Attributes = attrsFromStat(info)
	return nil
}

func (fs *fileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	p := fs.pathOf(op.Inode)
	fs.mu.Unlock()

	info, err := fs.meta.GetAttr(p)
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = attrsFromStat(info)
	return nil
}

// SetInodeAttributes applies every field the kernel sent: mode, atime,
// mtime and size. jacobsa/fuse's SetInodeAttributesOp carries no uid/gid
// fields (see DESIGN.md), so chown is reachable only through
// internal/metaops directly, not through a mounted fuse file system.
func (fs *fileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	p := fs.pathOf(op.Inode)
	fs.mu.Unlock()

	if op.Mode != nil {
		if err := fs.meta.Chmod(p, *op.Mode); err != nil {
			return translateErr(err)
		}
	}

	if op.Atime != nil || op.Mtime != nil {
		info, err := fs.meta.GetAttr(p)
		if err != nil {
			return translateErr(err)
		}
		atime, mtime := info.Atime, info.Mtime
		if op.Atime != nil {
			atime = *op.Atime
		}
		if op.Mtime != nil {
			mtime = *op.Mtime
		}
		if err := fs.meta.Utimens(p, atime, mtime); err != nil {
			return translateErr(err)
		}
	}

	if op.Size != nil {
		if err := fs.content.Truncate(p, int64(*op.Size)); err != nil {
			return translateErr(err)
		}
	}

	info, err := fs.meta.GetAttr(p)
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = attrsFromStat(info)
	return nil
}

func (fs *fileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	count, ok := fs.lookupCount[op.Inode]
	if !ok {
		return nil
	}
	if op.N >= count {
		delete(fs.lookupCount, op.Inode)
		if p, ok := fs.idToPath[op.Inode]; ok {
			delete(fs.idToPath, op.Inode)
			delete(fs.pathToID, p)
		}
		return nil
	}
	fs.lookupCount[op.Inode] = count - op.N
	return nil
}

// StatFS reports the sqlite database's row counts as a stand-in for block
// and inode accounting; sqlfs.c exposed a real statvfs implementation that
// spec.md's distillation dropped, and this is the feature it supplemented
// (see SPEC_FULL.md).
func (fs *fileSystem) StatFS(op *fuseops.StatFSOp) error {
	var paths int64
	if err := fs.store.DB().QueryRow(`SELECT COUNT(*) FROM paths`).Scan(&paths); err != nil {
		return translateErr(err)
	}

	const blockSize = 4096
	op.BlockSize = blockSize
	op.Blocks = 1 << 20
	op.BlocksFree = op.Blocks
	op.BlocksAvailable = op.Blocks
	op.Inodes = 1 << 20
	op.InodesFree = op.Inodes - uint64(paths)
	op.IoSize = blockSize
	return nil
}
