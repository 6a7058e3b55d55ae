package fs

import (
	"os"
	"strings"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/relfs/relfs/internal/metaops"
)

// dirHandle remembers which directory and which metaops handle a
// OpenDirOp minted, so ReadDir can resume a listing. Unlike the teacher,
// which buffers listings because paginated GCS listing is expensive,
// relfs re-queries the database on every ReadDir call: a single indexed
// SQL query per call is cheap enough that buffering would only add
// complexity.
type dirHandle struct {
	path   string
	handle metaops.Handle
}

func (fs *fileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	p := fs.pathOf(op.Inode)
	fs.mu.Unlock()

	h, err := fs.meta.OpenDir(p)
	if err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	id := fs.nextHandleID
	fs.nextHandleID++
	fs.dirHandles[id] = &dirHandle{path: p, handle: h}
	fs.mu.Unlock()

	op.Handle = id
	return nil
}

func (fs *fileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh := fs.dirHandles[op.Handle]
	fs.mu.Unlock()

	entries, err := fs.meta.ReadDir(dh.path, dh.handle, int64(op.Offset))
	if err != nil {
		return translateErr(err)
	}

	index := int64(op.Offset)
	fs.mu.Lock()
	for _, e := range entries {
		index++

		var entryPath string
		switch e.Name {
		case ".":
			entryPath = dh.path
		case "..":
			entryPath = parentOf(dh.path)
		default:
			entryPath = childPath(dh.path, e.Name)
		}
		id := fs.internID(entryPath)

		d := fuseutil.Dirent{
			Offset: fuseops.DirOffset(index),
			Inode:  id,
			Name:   e.Name,
			Type:   direntType(e.Stat.Mode),
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	fs.mu.Unlock()

	return nil
}

func (fs *fileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}

func direntType(mode os.FileMode) fuseutil.DirentType {
	switch {
	case mode.IsDir():
		return fuseutil.DT_Directory
	case mode&os.ModeSymlink != 0:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (fs *fileSystem) MkDir(op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	fs.mu.Unlock()

	p := childPath(parentPath, op.Name)
	if err := fs.ns.Mkdir(p, op.Mode, fs.uid, fs.gid); err != nil {
		return translateErr(err)
	}

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

func (fs *fileSystem) RmDir(op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	parentPath := fs.pathOf(op.Parent)
	fs.mu.Unlock()

	return translateErr(fs.ns.Rmdir(childPath(parentPath, op.Name)))
}

func (fs *fileSystem) Rename(op *fuseops.RenameOp) error {
	fs.mu.Lock()
	oldParentPath := fs.pathOf(op.OldParent)
	newParentPath := fs.pathOf(op.NewParent)
	fs.mu.Unlock()

	oldPath := childPath(oldParentPath, op.OldName)
	newPath := childPath(newParentPath, op.NewName)

	if err := fs.ns.Rename(oldPath, newPath); err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	fs.rewriteCachedPaths(oldPath, newPath)
	fs.mu.Unlock()
	return nil
}

// rewriteCachedPaths mirrors store.RewriteDescendants against the inode ID
// cache: renaming a directory changes the path string of every cached
// descendant even though their inode IDs don't change.
func (fs *fileSystem) rewriteCachedPaths(oldPath, newPath string) {
	for id, p := range fs.idToPath {
		if p != oldPath && !strings.HasPrefix(p, oldPath+"/") {
			continue
		}
		rewritten := newPath + strings.TrimPrefix(p, oldPath)
		delete(fs.pathToID, p)
		fs.idToPath[id] = rewritten
		fs.pathToID[rewritten] = id
	}
}

func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
