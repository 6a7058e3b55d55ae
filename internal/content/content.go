// Package content implements relfs's byte-range I/O against a file's
// files.content cell: in-place blob writes when they fit, grow-on-write
// when they don't, and truncate in both directions.
package content

import (
	"github.com/relfs/relfs/internal/store"
)

// Ops bundles the content handlers against one database session.
type Ops struct {
	Store *store.Store
}

func New(s *store.Store) *Ops { return &Ops{Store: s} }

// Read opens a random-access blob handle on path's content, clamps size to
// blob_size-offset, and returns the bytes actually read.
func (o *Ops) Read(path string, offset int64, size int) ([]byte, error) {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return nil, err
	}
	if info.FileID == 0 {
		return nil, nil
	}

	blob := o.Store.OpenBlob(info.FileID)
	buf := make([]byte, size)
	n, _, err := blob.ReadAt(buf, offset)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write resolves path, chooses the in-place or grow-on-write regime, and
// returns the number of bytes written (always len(buf) on success, per
// spec.md §4.5 — implementations must return the count, not just OK).
func (o *Ops) Write(path string, buf []byte, offset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return 0, err
	}

	blob := o.Store.OpenBlob(info.FileID)
	current, err := blob.Size()
	if err != nil {
		return 0, err
	}

	if offset+int64(len(buf)) <= current {
		// In-place regime: the write fits entirely within the existing
		// blob, so it never needs to be pulled into Go memory.
		if err := blob.WriteAt(buf, offset); err != nil {
			return 0, err
		}
		return len(buf), nil
	}

	// Grow-on-write regime: materialize the whole new length, zero-fill
	// the gap between the old end and offset (fixing §9 bug 2, which left
	// that gap uninitialized), splice in buf, and write the buffer back
	// as a single update.
	newSize := offset + int64(len(buf))
	whole := make([]byte, newSize)
	if current > 0 {
		if _, _, err := blob.ReadAt(whole[:current], 0); err != nil {
			return 0, err
		}
	}
	// whole[current:offset] is already zero from make(); copy buf in.
	copy(whole[offset:], buf)

	if err := blob.Overwrite(whole); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Truncate resizes path's content to newSize. Shrinking drops the tail;
// growing zero-extends the blob (fixing §9 bug 1, where truncate-up was a
// silent no-op).
func (o *Ops) Truncate(path string, newSize int64) error {
	info, err := o.Store.ResolveInfo(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &store.Error{Code: store.CodeIsDir, Op: "truncate", Path: path}
	}

	blob := o.Store.OpenBlob(info.FileID)
	current, err := blob.Size()
	if err != nil {
		return err
	}

	if newSize == current {
		return nil
	}

	if newSize < current {
		head := make([]byte, newSize)
		if _, _, err := blob.ReadAt(head, 0); err != nil {
			return err
		}
		return blob.Overwrite(head)
	}

	// newSize > current: zero-extend.
	whole := make([]byte, newSize)
	if current > 0 {
		if _, _, err := blob.ReadAt(whole[:current], 0); err != nil {
			return err
		}
	}
	return blob.Overwrite(whole)
}
