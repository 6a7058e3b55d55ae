package store

// Blob is a random-access handle onto one files.content cell, the literal
// mechanism behind spec.md §4.5's "random-access blob handle": writes that
// fit within the existing content never pull the blob into Go memory,
// they're expressed as a single SQL statement splicing the new bytes in.
type Blob struct {
	store  *Store
	fileID int64
}

// OpenBlob returns a handle for in-place reads/writes against fileID.
func (s *Store) OpenBlob(fileID int64) *Blob {
	return &Blob{store: s, fileID: fileID}
}

// ReadAt reads up to len(p) bytes starting at off, clamped to the blob's
// current size. Returns the number of bytes copied into p (which may be
// fewer than len(p)) and the blob's total size.
func (b *Blob) ReadAt(p []byte, off int64) (n int, total int64, err error) {
	data, total, err := b.store.ReadBlob(b.fileID, int(off), len(p))
	if err != nil {
		return 0, 0, err
	}
	n = copy(p, data)
	return n, total, nil
}

// WriteAt splices p into the blob at off using a single
// substr(content,1,a) || p || substr(content,a+len(p)+1) UPDATE, the
// in-place regime from spec.md §4.5. It is only valid when off+len(p) does
// not extend past the blob's current size; callers needing to grow the
// blob must use the grow-on-write path in internal/content instead.
func (b *Blob) WriteAt(p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	_, err := b.store.db.Exec(
		`UPDATE files SET content = substr(COALESCE(content, x''), 1, ?) || ? || substr(COALESCE(content, x''), ?)
		 WHERE id = ?`,
		off, p, off+int64(len(p))+1, b.fileID)
	if err != nil {
		return newErr(CodeIO, "write", "", err)
	}
	return nil
}

// Overwrite replaces the blob's content wholesale and sets size in the
// same statement — the grow-on-write regime's final step.
func (b *Blob) Overwrite(content []byte) error {
	_, err := b.store.stmtSetContent.Exec(content, int64(len(content)), b.fileID)
	if err != nil {
		return newErr(CodeIO, "write", "", err)
	}
	return nil
}

// Size returns the blob's current byte length.
func (b *Blob) Size() (int64, error) {
	var total int64
	if err := b.store.db.QueryRow(`SELECT size FROM files WHERE id = ?`, b.fileID).Scan(&total); err != nil {
		return 0, newErr(CodeIO, "stat", "", err)
	}
	return total, nil
}
