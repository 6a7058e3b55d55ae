// Package metaops implements the metadata operations relfs exposes:
// getattr, chmod, chown, utimens, opendir and readdir, all resolved
// against an internal/store.Store.
package metaops

import (
	"os"
	"time"

	"github.com/relfs/relfs/internal/store"
)

// typeMask isolates the high "file type" bits of an os.FileMode (dir,
// symlink, ...) from the low permission bits, per spec.md §4.3's chmod
// rule: incoming permission bits win, existing type bits are preserved.
const typeMask = os.ModeType | os.ModeSymlink | os.ModeDir

// Ops bundles the metadata handlers against one database session.
type Ops struct {
	Store *store.Store
}

func New(s *store.Store) *Ops { return &Ops{Store: s} }

// GetAttr resolves path to its full stat, synthesizing root.
func (o *Ops) GetAttr(path string) (store.Stat, error) {
	return o.Store.ResolveInfo(path)
}

// Chmod updates mode, OR-ing the incoming permission bits onto the
// existing type bits (the type of a node never changes via chmod).
func (o *Ops) Chmod(path string, mode os.FileMode) error {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return err
	}
	newMode := (mode &^ typeMask) | (info.Mode & typeMask)
	return o.Store.UpdateMode(info.ID, newMode)
}

// Chown updates the owning uid/gid on the path's own row (fixing §9 bug
// 4, which bound uid/gid reversed and against the wrong column).
func (o *Ops) Chown(path string, uid, gid uint32) error {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return err
	}
	return o.Store.UpdateOwner(info.ID, uid, gid)
}

// Utimens updates atime/mtime, storing whole seconds (fixing §9 bug 3).
func (o *Ops) Utimens(path string, atime, mtime time.Time) error {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return err
	}
	return o.Store.UpdateTimes(info.ID, atime, mtime)
}

// Handle is the opaque directory handle opendir hands back: the
// resolved directory's id, exactly as spec.md §4.3 describes.
type Handle = store.ID

// OpenDir resolves path to a directory handle.
func (o *Ops) OpenDir(path string) (Handle, error) {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, &store.Error{Code: store.CodeNotDir, Op: "opendir", Path: path}
	}
	return info.ID, nil
}

// DirEntry is one row of a ReadDir result.
type DirEntry struct {
	Name string
	Stat store.Stat
}

// ReadDir streams the children of handle starting at offset, synthesizing
// "." and ".." only at offset 0, and propagating storage errors as IO
// instead of silently truncating (fixing §9 bug 6).
func (o *Ops) ReadDir(path string, handle Handle, offset int64) ([]DirEntry, error) {
	var entries []DirEntry

	if offset == 0 {
		self, err := o.Store.ResolveInfo(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: ".", Stat: self})

		parentPath := parentOf(path)
		parent, err := o.Store.ResolveInfo(parentPath)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: "..", Stat: parent})
		offset = 0
	}

	children, err := o.Store.ListChildren(store.ID(handle), adjustedOffset(offset))
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		info, err := o.Store.ResolveInfo(fullChildPath(path, c.Name))
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: c.Name, Stat: info})
	}
	return entries, nil
}

// adjustedOffset accounts for the two synthetic entries readdir already
// emitted before the first real SQL row at offset 0.
func adjustedOffset(offset int64) int64 {
	if offset <= 0 {
		return 0
	}
	return offset - 2
}

func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	dir := p[:lastSlash(p)]
	if dir == "" {
		return "/"
	}
	return dir
}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}
	return 0
}

func fullChildPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
