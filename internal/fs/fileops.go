package fs

import (
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
)

func (fs *fileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	fs.mu.Unlock()

	p := childPath(parentPath, op.Name)
	if err := fs.ns.Mknod(p, op.Mode, 0, fs.uid, fs.gid); err != nil {
		return translateErr(err)
	}
	return fs.fillCreatedEntry(p, &op.Entry)
}

// MkNode backs POSIX mknod(2). It always creates an empty regular file:
// the type bits of op.Mode are dropped and the device number is stored as
// 0, so device and FIFO special files are not created.
func (fs *fileSystem) MkNode(op *fuseops.MkNodeOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	fs.mu.Unlock()

	p := childPath(parentPath, op.Name)
	if err := fs.ns.Mknod(p, op.Mode, 0, fs.uid, fs.gid); err != nil {
		return translateErr(err)
	}
	return fs.fillCreatedEntry(p, &op.Entry)
}

func (fs *fileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	fs.mu.Unlock()

	p := childPath(parentPath, op.Name)
	if err := fs.ns.Symlink(op.Target, p, fs.uid, fs.gid); err != nil {
		return translateErr(err)
	}
	return fs.fillCreatedEntry(p, &op.Entry)
}

// CreateLink backs POSIX link(2), another sqlfs.c capability with no
// equivalent in the teacher's object-store domain.
func (fs *fileSystem) CreateLink(op *fuseops.CreateLinkOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	targetPath := fs.pathOf(op.Target)
	fs.mu.Unlock()

	p := childPath(parentPath, op.Name)
	if err := fs.ns.Link(targetPath, p); err != nil {
		return translateErr(err)
	}
	return fs.fillCreatedEntry(p, &op.Entry)
}

func (fs *fileSystem) fillCreatedEntry(p string, entry *fuseops.ChildInodeEntry) error {
	info, err := fs.meta.GetAttr(p)
	if err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	id := fs.internID(p)
	fs.bumpLookup(id)
	fs.mu.Unlock()

	entry.Child = id
	entry.Attributes = attrsFromStat(info)
	return nil
}

func (fs *fileSystem) Unlink(op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	fs.mu.Unlock()

	return translateErr(fs.ns.Unlink(childPath(parentPath, op.Name)))
}

// OpenFile confirms the inode is still resolvable and honors O_TRUNC;
// relfs has no other per-handle state for regular files (content ops are
// addressed by path, not by a handle the kernel hands back on every
// read/write). op.Flags carries the raw flags open(2) was called with,
// which on Linux are bit-compatible with syscall.O_TRUNC.
func (fs *fileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	p := fs.pathOf(op.Inode)
	fs.mu.Unlock()

	if _, err := fs.meta.GetAttr(p); err != nil {
		return translateErr(err)
	}

	if uint32(op.Flags)&syscall.O_TRUNC != 0 {
		if err := fs.content.Truncate(p, 0); err != nil {
			return translateErr(err)
		}
	}
	return nil
}

func (fs *fileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	p := fs.pathOf(op.Inode)
	fs.mu.Unlock()

	data, err := fs.content.Read(p, op.Offset, op.Size)
	if err != nil {
		return translateErr(err)
	}
	op.Data = data
	return nil
}

func (fs *fileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	p := fs.pathOf(op.Inode)
	fs.mu.Unlock()

	_, err := fs.content.Write(p, op.Data, op.Offset)
	return translateErr(err)
}

func (fs *fileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	fs.mu.Lock()
	p := fs.pathOf(op.Inode)
	fs.mu.Unlock()

	target, err := fs.ns.Readlink(p)
	if err != nil {
		return translateErr(err)
	}
	op.Target = target
	return nil
}

// FlushFile and SyncFile are both no-ops: every content write already
// lands in sqlite synchronously, so there is nothing left to flush.
func (fs *fileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *fileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *fileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return nil
}
