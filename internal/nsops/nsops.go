// Package nsops implements relfs's namespace mutations: mkdir, mknod,
// symlink, readlink, link, unlink, rmdir and rename. Unlink and Rename run
// inside one database/sql transaction each, closing spec.md §9's "no
// transactions around multi-step mutations" re-architecture item. Mknod,
// Symlink and Link issue their statements separately; Mknod and Symlink
// drop the new files row again if the paths insert fails.
package nsops

import (
	"database/sql"
	"os"

	"github.com/relfs/relfs/internal/store"
)

// Ops bundles the namespace handlers against one database session.
type Ops struct {
	Store *store.Store

	// Umask is cleared from the mode bits passed to Mkdir and Mknod before
	// they are stored, mirroring what the kernel would otherwise have done
	// for a process-local umask; relfs has no per-request caller to read a
	// umask from, so it is a mount-wide config value instead (cfg.Config's
	// FileSystem.Umask, defaulted to 022).
	Umask os.FileMode

	// FileMode and DirMode cap the permission bits a new regular file or
	// directory can get, after Umask has already been cleared from the
	// caller's requested mode. A caller can only narrow permissions below
	// these ceilings, never widen them; chmod afterwards is unaffected.
	FileMode os.FileMode
	DirMode  os.FileMode
}

func New(s *store.Store, umask, fileMode, dirMode os.FileMode) *Ops {
	return &Ops{Store: s, Umask: umask, FileMode: fileMode, DirMode: dirMode}
}

// Mkdir requires the parent to exist and inserts one directory paths row.
func (o *Ops) Mkdir(path string, mode os.FileMode, uid, gid uint32) error {
	parentID, err := o.Store.ParentID(path)
	if err != nil {
		return err
	}
	perm := (mode.Perm() &^ o.Umask) & o.DirMode
	_, err = o.Store.InsertPathRow(path, parentID, uid, gid, os.ModeDir|perm, 0)
	return err
}

// Mknod requires the target not to exist. It inserts a zero-length files
// row (nlink=1) then a regular-file paths row referencing it.
func (o *Ops) Mknod(path string, mode os.FileMode, dev int64, uid, gid uint32) error {
	parentID, err := o.Store.ParentID(path)
	if err != nil {
		return err
	}

	fileID, err := o.Store.InsertFileRow(nil, dev, 0)
	if err != nil {
		return err
	}

	perm := (mode.Perm() &^ o.Umask) & o.FileMode
	if _, err := o.Store.InsertPathRow(path, parentID, uid, gid, perm, fileID); err != nil {
		// the files row would otherwise dangle with nlink=1 and no
		// referencing paths row; clean it up before surfacing EEXIST.
		o.Store.DropRef(fileID)
		return err
	}
	return nil
}

// Symlink requires newPath not to exist. The target string is stored as
// the new file's content.
func (o *Ops) Symlink(oldPath, newPath string, uid, gid uint32) error {
	parentID, err := o.Store.ParentID(newPath)
	if err != nil {
		return err
	}

	fileID, err := o.Store.InsertFileRow([]byte(oldPath), 0, int64(len(oldPath)))
	if err != nil {
		return err
	}

	if _, err := o.Store.InsertPathRow(newPath, parentID, uid, gid, os.ModeSymlink|0755, fileID); err != nil {
		o.Store.DropRef(fileID)
		return err
	}
	return nil
}

// Readlink resolves path to its link's file id and reads its target
// string back via the random-access blob handle.
func (o *Ops) Readlink(path string) (string, error) {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return "", err
	}
	if info.Mode&os.ModeSymlink == 0 {
		return "", &store.Error{Code: store.CodeInvalid, Op: "readlink", Path: path}
	}
	blob := o.Store.OpenBlob(info.FileID)
	buf := make([]byte, info.Size)
	n, _, err := blob.ReadAt(buf, 0)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Link requires newPath not to exist and oldPath to exist. It inserts a
// paths row sharing oldPath's file_id, mode and type, and increments nlink
// on the shared files row.
func (o *Ops) Link(oldPath, newPath string) error {
	old, err := o.Store.ResolveInfo(oldPath)
	if err != nil {
		return err
	}
	if old.IsDir() {
		return &store.Error{Code: store.CodeIsDir, Op: "link", Path: oldPath}
	}

	parentID, err := o.Store.ParentID(newPath)
	if err != nil {
		return err
	}

	if _, err := o.Store.InsertPathRow(newPath, parentID, old.Uid, old.Gid, old.Mode, old.FileID); err != nil {
		return err
	}
	return o.Store.AddRef(old.FileID)
}

// Unlink requires a non-directory. Deleting the paths row and dropping the
// files reference run inside one transaction (§9 re-architecture item 3).
func (o *Ops) Unlink(path string) error {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &store.Error{Code: store.CodeIsDir, Op: "unlink", Path: path}
	}

	tx, err := o.Store.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := unlinkInTx(o.Store, tx, info); err != nil {
		return err
	}
	return commit(tx)
}

// unlinkInTx removes info's paths row and drops its files reference
// through tx-bound statements, so both commit or roll back together. Used
// by Unlink and by Rename's unlink-an-existing-destination step, which
// must land in the same transaction as the retarget that follows it.
func unlinkInTx(s *store.Store, tx *sql.Tx, info store.Stat) error {
	if err := s.DeletePathRowTx(tx, info.ID); err != nil {
		return err
	}
	return s.DropRefTx(tx, info.FileID)
}

// Rmdir requires a directory with no children; §9 bug fix: returns
// ENOTEMPTY rather than the reference's EPERM.
func (o *Ops) Rmdir(path string) error {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &store.Error{Code: store.CodeNotDir, Op: "rmdir", Path: path}
	}

	count, err := o.Store.CountChildren(info.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return &store.Error{Code: store.CodeNotEmpty, Op: "rmdir", Path: path}
	}
	return o.Store.DeletePathRow(info.ID)
}

// Rename requires oldPath to exist. If newPath exists and is a directory,
// EISDIR; if it exists and is a file, it is unlinked first; then the
// source row (and, for a directory, every descendant) is retargeted onto
// newPath, all inside one transaction — closing §9 bug 5, where the
// reference only supported renaming leaf files.
func (o *Ops) Rename(oldPath, newPath string) error {
	src, err := o.Store.ResolveInfo(oldPath)
	if err != nil {
		return err
	}

	var dst *store.Stat
	if d, err := o.Store.ResolveInfo(newPath); err == nil {
		if d.IsDir() {
			return &store.Error{Code: store.CodeIsDir, Op: "rename", Path: newPath}
		}
		dst = &d
	} else if se, ok := err.(*store.Error); !ok || se.Code != store.CodeNotFound {
		return err
	}

	newParentID, err := o.Store.ParentID(newPath)
	if err != nil {
		return err
	}

	tx, err := o.Store.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if dst != nil {
		if err := unlinkInTx(o.Store, tx, *dst); err != nil {
			return err
		}
	}

	if src.IsDir() {
		if err := o.Store.RewriteDescendants(tx, oldPath, newPath, newParentID); err != nil {
			return err
		}
	} else if _, err := tx.Exec(`UPDATE paths SET path = ?, parent_id = ? WHERE id = ?`, newPath, newParentID, src.ID); err != nil {
		return &store.Error{Code: store.CodeIO, Op: "rename", Path: newPath, Err: err}
	}

	return commit(tx)
}

func commit(tx interface{ Commit() error }) error {
	if err := tx.Commit(); err != nil {
		return &store.Error{Code: store.CodeIO, Op: "commit", Err: err}
	}
	return nil
}
