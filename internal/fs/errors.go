package fs

import (
	"golang.org/x/sys/unix"

	"github.com/jacobsa/fuse"

	"github.com/relfs/relfs/internal/store"
)

// translateErr maps a store.Error's Code onto the errno jacobsa/fuse
// expects back from an operation method, per spec.md §7's error taxonomy.
func translateErr(err error) error {
	se, ok := err.(*store.Error)
	if !ok {
		return err
	}

	switch se.Code {
	case store.CodeNotFound:
		return fuse.ENOENT
	case store.CodeExists:
		return fuse.EEXIST
	case store.CodeIsDir:
		return unix.EISDIR
	case store.CodeNotDir:
		return fuse.ENOTDIR
	case store.CodeNotEmpty:
		return fuse.ENOTEMPTY
	case store.CodeInvalid:
		return fuse.EINVAL
	default:
		return fuse.EIO
	}
}
