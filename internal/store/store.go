package store

import (
	"database/sql"
	"os"
	"path"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	nlink   INTEGER NOT NULL DEFAULT 1,
	content BLOB,
	dev     INTEGER NOT NULL DEFAULT 0,
	size    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS paths (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	path      TEXT NOT NULL UNIQUE,
	parent_id INTEGER NOT NULL,
	uid       INTEGER NOT NULL,
	gid       INTEGER NOT NULL,
	mode      INTEGER NOT NULL,
	atime     INTEGER NOT NULL,
	mtime     INTEGER NOT NULL,
	ctime     INTEGER NOT NULL,
	file_id   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS paths_parent_id_idx ON paths(parent_id);
CREATE INDEX IF NOT EXISTS paths_file_id_idx ON paths(file_id);
`

// Store owns the SQLite connection, the prepared statement cache, and the
// path-resolution logic every other package calls into. It is the single
// "database session" object spec.md §9 asks for in place of the reference
// implementation's process-wide globals.
type Store struct {
	db *sql.DB

	stmtResolveID     *sql.Stmt
	stmtResolveInfo   *sql.Stmt
	stmtInsertFile    *sql.Stmt
	stmtInsertPath    *sql.Stmt
	stmtDeletePath    *sql.Stmt
	stmtDeleteFile    *sql.Stmt
	stmtDecrementLink *sql.Stmt
	stmtIncrementLink *sql.Stmt
	stmtGetNlink      *sql.Stmt
	stmtUpdateMode    *sql.Stmt
	stmtUpdateOwner   *sql.Stmt
	stmtUpdateTimes   *sql.Stmt
	stmtUpdatePath    *sql.Stmt
	stmtCountChildren *sql.Stmt
	stmtListChildren  *sql.Stmt
	stmtGetContent    *sql.Stmt
	stmtSetContent    *sql.Stmt
}

// Open creates (if necessary) and opens the SQLite database at dbPath,
// enabling WAL mode and preparing the fixed query set used by
// internal/metaops, internal/nsops and internal/content.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, newErr(CodeIO, "open", dbPath, err)
	}

	// One connection serializes every statement, including those issued
	// by concurrently running fuse handlers, and avoids SQLite's
	// multi-connection WAL-reader coordination entirely.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, newErr(CodeIO, "open", dbPath, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, newErr(CodeIO, "open", dbPath, err)
	}

	s := &Store{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare() error {
	stmts := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&s.stmtResolveID, `SELECT id FROM paths WHERE path = ?`},
		{&s.stmtResolveInfo, `SELECT p.id, p.parent_id, p.uid, p.gid, p.mode, p.atime, p.mtime, p.ctime,
			p.file_id, COALESCE(f.size, 0), COALESCE(f.nlink, 0), COALESCE(f.dev, 0)
			FROM paths p LEFT JOIN files f ON f.id = p.file_id WHERE p.path = ?`},
		{&s.stmtInsertFile, `INSERT INTO files (nlink, content, dev, size) VALUES (1, ?, ?, ?)`},
		{&s.stmtInsertPath, `INSERT INTO paths (path, parent_id, uid, gid, mode, atime, mtime, ctime, file_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.stmtDeletePath, `DELETE FROM paths WHERE id = ?`},
		{&s.stmtDeleteFile, `DELETE FROM files WHERE id = ?`},
		{&s.stmtDecrementLink, `UPDATE files SET nlink = nlink - 1 WHERE id = ?`},
		{&s.stmtIncrementLink, `UPDATE files SET nlink = nlink + 1 WHERE id = ?`},
		{&s.stmtGetNlink, `SELECT nlink FROM files WHERE id = ?`},
		{&s.stmtUpdateMode, `UPDATE paths SET mode = ?, ctime = ? WHERE id = ?`},
		{&s.stmtUpdateOwner, `UPDATE paths SET uid = ?, gid = ?, ctime = ? WHERE id = ?`},
		{&s.stmtUpdateTimes, `UPDATE paths SET atime = ?, mtime = ? WHERE id = ?`},
		{&s.stmtUpdatePath, `UPDATE paths SET path = ?, parent_id = ?, ctime = ? WHERE id = ?`},
		{&s.stmtCountChildren, `SELECT COUNT(*) FROM paths WHERE parent_id = ?`},
		{&s.stmtListChildren, `SELECT id, path, mode, file_id FROM paths WHERE parent_id = ?
			ORDER BY id LIMIT -1 OFFSET ?`},
		{&s.stmtGetContent, `SELECT content, size FROM files WHERE id = ?`},
		{&s.stmtSetContent, `UPDATE files SET content = ?, size = ? WHERE id = ?`},
	}

	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.text)
		if err != nil {
			return newErr(CodeIO, "prepare", st.text, err)
		}
		*st.dst = prepared
	}
	return nil
}

// Close releases the prepared statements and the underlying connection.
func (s *Store) Close() error {
	for _, st := range []*sql.Stmt{
		s.stmtResolveID, s.stmtResolveInfo, s.stmtInsertFile, s.stmtInsertPath,
		s.stmtDeletePath, s.stmtDeleteFile, s.stmtDecrementLink, s.stmtIncrementLink,
		s.stmtGetNlink, s.stmtUpdateMode, s.stmtUpdateOwner, s.stmtUpdateTimes,
		s.stmtUpdatePath, s.stmtCountChildren, s.stmtListChildren, s.stmtGetContent,
		s.stmtSetContent,
	} {
		if st != nil {
			st.Close()
		}
	}
	return s.db.Close()
}

// synthRoot is the stat invented for "/" — root carries no row of its own.
func synthRoot() Stat {
	now := time.Now()
	return Stat{
		ID:       RootID,
		ParentID: RootID,
		Mode:     os.ModeDir | 0755,
		Uid:      uint32(os.Getuid()),
		Gid:      uint32(os.Getgid()),
		Atime:    now,
		Mtime:    now,
		Ctime:    now,
		Nlink:    1,
	}
}

// ResolveID returns the paths.id for p, or a NOT_FOUND Error.
func (s *Store) ResolveID(p string) (ID, error) {
	if p == "/" {
		return RootID, nil
	}
	var id ID
	if err := s.stmtResolveID.QueryRow(p).Scan(&id); err != nil {
		return 0, resolveErr(err, "resolve_id", p)
	}
	return id, nil
}

// ResolveInfo returns the full Stat for p (root is synthesized).
func (s *Store) ResolveInfo(p string) (Stat, error) {
	if p == "/" {
		return synthRoot(), nil
	}

	var (
		st                         Stat
		atime, mtime, ctime        int64
		mode                       int64
	)
	row := s.stmtResolveInfo.QueryRow(p)
	if err := row.Scan(&st.ID, &st.ParentID, &st.Uid, &st.Gid, &mode,
		&atime, &mtime, &ctime, &st.FileID, &st.Size, &st.Nlink, &st.Dev); err != nil {
		return Stat{}, resolveErr(err, "resolve_info", p)
	}

	st.Name = path.Base(p)
	st.Mode = os.FileMode(mode)
	st.Atime = time.Unix(atime, 0)
	st.Mtime = time.Unix(mtime, 0)
	st.Ctime = time.Unix(ctime, 0)
	if st.Mode.IsDir() {
		// Directories have no files row (file_id 0), so the left join
		// leaves Nlink at 0; report the conventional 1 instead of tracking
		// per-subdirectory link counts, which nothing in this filesystem
		// consults.
		st.Nlink = 1
	}
	if st.Mode&os.ModeSymlink != 0 {
		target, _, err := s.ReadBlob(st.FileID, 0, int(st.Size))
		if err == nil {
			st.SymlinkTarget = string(target)
		}
	}
	return st, nil
}

// ParentID resolves the id of p's parent directory by textual derivation
// (path.Dir), per spec.md §4.2 — no "."/".." normalization is performed.
func (s *Store) ParentID(p string) (ID, error) {
	parent := path.Dir(p)
	return s.ResolveID(parent)
}

func resolveErr(err error, op, p string) error {
	if err == sql.ErrNoRows {
		return newErr(CodeNotFound, op, p, nil)
	}
	return newErr(CodeIO, op, p, err)
}

// Exists reports whether p names an existing row, translating NOT_FOUND
// into a plain false rather than an error.
func (s *Store) Exists(p string) (bool, error) {
	_, err := s.ResolveID(p)
	if err == nil {
		return true, nil
	}
	if se, ok := err.(*Error); ok && se.Code == CodeNotFound {
		return false, nil
	}
	return false, err
}

// InsertFileRow creates a new files row and returns its id.
func (s *Store) InsertFileRow(content []byte, dev int64, size int64) (int64, error) {
	res, err := s.stmtInsertFile.Exec(content, dev, size)
	if err != nil {
		return 0, newErr(CodeIO, "insert_file", "", err)
	}
	return res.LastInsertId()
}

// InsertPathRow creates a new paths row.
func (s *Store) InsertPathRow(p string, parentID ID, uid, gid uint32, mode os.FileMode, fileID int64) (ID, error) {
	now := time.Now().Unix()
	res, err := s.stmtInsertPath.Exec(p, parentID, uid, gid, int64(mode), now, now, now, fileID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, newErr(CodeExists, "insert_path", p, err)
		}
		return 0, newErr(CodeIO, "insert_path", p, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, newErr(CodeIO, "insert_path", p, err)
	}
	return ID(id), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// DeletePathRow removes a paths row by id. It runs as its own
// auto-committed statement; callers that must pair it with another
// mutation atomically should use DeletePathRowTx instead.
func (s *Store) DeletePathRow(id ID) error {
	if _, err := s.stmtDeletePath.Exec(id); err != nil {
		return newErr(CodeIO, "delete_path", "", err)
	}
	return nil
}

// DeletePathRowTx is DeletePathRow bound to tx, so the delete commits or
// rolls back with whatever else tx does.
func (s *Store) DeletePathRowTx(tx *sql.Tx, id ID) error {
	if _, err := tx.Stmt(s.stmtDeletePath).Exec(id); err != nil {
		return newErr(CodeIO, "delete_path", "", err)
	}
	return nil
}

// DropRef decrements a file's nlink and deletes the files row once it
// reaches zero, per spec.md §9's "drop_ref" re-architecture requirement.
// Centralizing this (rather than hand-inlining at every unlink call site)
// is the fix for §9 re-architecture item 2. It runs as its own
// auto-committed statements; callers that must pair it with another
// mutation atomically should use DropRefTx instead.
func (s *Store) DropRef(fileID int64) error {
	if _, err := s.stmtDecrementLink.Exec(fileID); err != nil {
		return newErr(CodeIO, "drop_ref", "", err)
	}
	var nlink int64
	if err := s.stmtGetNlink.QueryRow(fileID).Scan(&nlink); err != nil {
		return newErr(CodeIO, "drop_ref", "", err)
	}
	if nlink <= 0 {
		if _, err := s.stmtDeleteFile.Exec(fileID); err != nil {
			return newErr(CodeIO, "drop_ref", "", err)
		}
	}
	return nil
}

// DropRefTx is DropRef bound to tx. database/sql pools connections, and
// Store opens with a single-connection pool (see Open), so a statement
// prepared against the pool rather than against tx cannot be used once
// tx has checked that connection out — it would block waiting for a
// second connection that tx itself holds. tx.Stmt re-binds the already
// prepared statement to tx's own connection instead of acquiring a new
// one, which is what makes this safe to call between BeginTx and commit.
func (s *Store) DropRefTx(tx *sql.Tx, fileID int64) error {
	if _, err := tx.Stmt(s.stmtDecrementLink).Exec(fileID); err != nil {
		return newErr(CodeIO, "drop_ref", "", err)
	}
	var nlink int64
	if err := tx.Stmt(s.stmtGetNlink).QueryRow(fileID).Scan(&nlink); err != nil {
		return newErr(CodeIO, "drop_ref", "", err)
	}
	if nlink <= 0 {
		if _, err := tx.Stmt(s.stmtDeleteFile).Exec(fileID); err != nil {
			return newErr(CodeIO, "drop_ref", "", err)
		}
	}
	return nil
}

// AddRef increments a file's nlink (link()).
func (s *Store) AddRef(fileID int64) error {
	if _, err := s.stmtIncrementLink.Exec(fileID); err != nil {
		return newErr(CodeIO, "add_ref", "", err)
	}
	return nil
}

// UpdateMode applies chmod, preserving type bits per spec.md §4.3 (OR-ing
// the incoming mode bits with the stored one is the caller's job —
// internal/metaops owns that policy; Store just writes what it's given).
func (s *Store) UpdateMode(id ID, mode os.FileMode) error {
	_, err := s.stmtUpdateMode.Exec(int64(mode), time.Now().Unix(), id)
	if err != nil {
		return newErr(CodeIO, "chmod", "", err)
	}
	return nil
}

// UpdateOwner applies chown.
func (s *Store) UpdateOwner(id ID, uid, gid uint32) error {
	_, err := s.stmtUpdateOwner.Exec(uid, gid, time.Now().Unix(), id)
	if err != nil {
		return newErr(CodeIO, "chown", "", err)
	}
	return nil
}

// UpdateTimes applies utimens, storing whole seconds (fixing §9 bug 3,
// which stored tv_nsec*1000 into an integer seconds column).
func (s *Store) UpdateTimes(id ID, atime, mtime time.Time) error {
	_, err := s.stmtUpdateTimes.Exec(atime.Unix(), mtime.Unix(), id)
	if err != nil {
		return newErr(CodeIO, "utimens", "", err)
	}
	return nil
}

// UpdatePath retargets a paths row to a new path string and parent id, used
// by rename. ctime is bumped to now.
func (s *Store) UpdatePath(id ID, newPath string, newParentID ID) error {
	_, err := s.stmtUpdatePath.Exec(newPath, newParentID, time.Now().Unix(), id)
	if err != nil {
		return newErr(CodeIO, "rename", newPath, err)
	}
	return nil
}

// CountChildren returns the number of paths rows whose parent_id is id.
func (s *Store) CountChildren(id ID) (int64, error) {
	var n int64
	if err := s.stmtCountChildren.QueryRow(id).Scan(&n); err != nil {
		return 0, newErr(CodeIO, "count_children", "", err)
	}
	return n, nil
}

// Child is one row of a ListChildren result.
type Child struct {
	ID     ID
	Name   string
	Mode   os.FileMode
	FileID int64
}

// ListChildren streams direct children of id starting at offset, fixing
// §9 bug 6 (the reference swallowed SQL errors during readdir).
func (s *Store) ListChildren(id ID, offset int64) ([]Child, error) {
	rows, err := s.stmtListChildren.Query(id, offset)
	if err != nil {
		return nil, newErr(CodeIO, "readdir", "", err)
	}
	defer rows.Close()

	var out []Child
	for rows.Next() {
		var (
			c        Child
			fullPath string
			mode     int64
		)
		if err := rows.Scan(&c.ID, &fullPath, &mode, &c.FileID); err != nil {
			return nil, newErr(CodeIO, "readdir", "", err)
		}
		c.Mode = os.FileMode(mode)
		c.Name = path.Base(fullPath)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, newErr(CodeIO, "readdir", "", err)
	}
	return out, nil
}

// BeginTx starts an explicit transaction, per spec.md §9's requirement
// that multi-step mutations (unlink, rename-overwrite) be atomic.
func (s *Store) BeginTx() (*sql.Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, newErr(CodeIO, "begin_tx", "", err)
	}
	return tx, nil
}

// DescendantRewriteCount reports how many paths rows share old or sit
// beneath it (old or old+"/%"). Nothing in this module calls it.
func (s *Store) DescendantRewriteCount(old string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM paths WHERE path = ? OR path LIKE ? || '/%'`, old, old).Scan(&n)
	if err != nil {
		return 0, newErr(CodeIO, "count_descendants", old, err)
	}
	return n, nil
}

// RewriteDescendants patches path and parent_id for old and every row
// beneath it onto newPath, inside tx, closing §9 bug/item 5 (directory
// rename previously only worked for leaf files).
func (s *Store) RewriteDescendants(tx *sql.Tx, old, newPath string, newParentID ID) error {
	rows, err := tx.Query(`SELECT id, path, parent_id FROM paths WHERE path = ? OR path LIKE ? || '/%'`, old, old)
	if err != nil {
		return newErr(CodeIO, "rename", old, err)
	}

	type row struct {
		id       ID
		path     string
		parentID ID
	}
	var toPatch []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.path, &r.parentID); err != nil {
			rows.Close()
			return newErr(CodeIO, "rename", old, err)
		}
		toPatch = append(toPatch, r)
	}
	closeErr := rows.Close()
	if err := rows.Err(); err != nil {
		return newErr(CodeIO, "rename", old, err)
	}
	if closeErr != nil {
		return newErr(CodeIO, "rename", old, closeErr)
	}

	// A descendant's parent_id points at the moved directory's row id,
	// which does not change on rename — only the row named old itself
	// needs parent_id retargeted to its new parent. Every row (old and
	// its descendants) needs its path string's old-prefix replaced.
	now := time.Now().Unix()
	for _, r := range toPatch {
		patchedPath := newPath + strings.TrimPrefix(r.path, old)
		patchedParent := r.parentID
		if r.path == old {
			patchedParent = newParentID
		}
		if _, err := tx.Exec(`UPDATE paths SET path = ?, parent_id = ?, ctime = ? WHERE id = ?`,
			patchedPath, patchedParent, now, r.id); err != nil {
			return newErr(CodeIO, "rename", old, err)
		}
	}
	return nil
}

// ReadBlob reads up to size bytes of a file's content starting at offset,
// clamped to the stored size, never reading past end.
func (s *Store) ReadBlob(fileID int64, offset, size int) ([]byte, int64, error) {
	var (
		content []byte
		total   int64
	)
	if err := s.stmtGetContent.QueryRow(fileID).Scan(&content, &total); err != nil {
		return nil, 0, newErr(CodeIO, "read", "", err)
	}
	if int64(offset) >= total {
		return nil, total, nil
	}
	end := offset + size
	if int64(end) > total {
		end = int(total)
	}
	return content[offset:end], total, nil
}

// DB exposes the raw connection for invariant-checking tests.
func (s *Store) DB() *sql.DB { return s.db }
