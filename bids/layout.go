package bids

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path      TEXT PRIMARY KEY,
	relpath   TEXT NOT NULL,
	subject   TEXT NOT NULL DEFAULT '',
	session   TEXT NOT NULL DEFAULT '',
	task      TEXT NOT NULL DEFAULT '',
	acq       TEXT NOT NULL DEFAULT '',
	run       TEXT NOT NULL DEFAULT '',
	echo      TEXT NOT NULL DEFAULT '',
	suffix    TEXT NOT NULL,
	extension TEXT NOT NULL DEFAULT '',
	datatype  TEXT NOT NULL DEFAULT '',
	entities  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS files_subject ON files (subject, datatype, suffix);
`

// fileRow is a File as stored in the index.
type fileRow struct {
	Path      string `db:"path"`
	RelPath   string `db:"relpath"`
	Subject   string `db:"subject"`
	Session   string `db:"session"`
	Task      string `db:"task"`
	Acq       string `db:"acq"`
	Run       string `db:"run"`
	Echo      string `db:"echo"`
	Suffix    string `db:"suffix"`
	Extension string `db:"extension"`
	Datatype  string `db:"datatype"`
	Entities  string `db:"entities"`
}

func toRow(f File) (fileRow, error) {
	ents, err := json.Marshal(f.Entities)
	if err != nil {
		return fileRow{}, err
	}

	return fileRow{
		Path:      f.Path,
		RelPath:   f.RelPath,
		Subject:   f.Entities["sub"],
		Session:   f.Entities["ses"],
		Task:      f.Entities["task"],
		Acq:       f.Entities["acq"],
		Run:       f.Entities["run"],
		Echo:      f.Entities["echo"],
		Suffix:    f.Suffix,
		Extension: f.Extension,
		Datatype:  f.Datatype,
		Entities:  string(ents),
	}, nil
}

func (r fileRow) file() (File, error) {
	f := File{
		Path:      r.Path,
		RelPath:   r.RelPath,
		Suffix:    r.Suffix,
		Extension: r.Extension,
		Datatype:  r.Datatype,
	}

	if err := json.Unmarshal([]byte(r.Entities), &f.Entities); err != nil {
		return File{}, fmt.Errorf("%s: corrupt entities in index: %w", r.Path, err)
	}

	return f, nil
}

// Options control indexing.
type Options struct {
	// Client is required for gs:// datasets.
	Client *storage.Client
}

// Layout is a queryable index of one dataset.
type Layout struct {
	Root   string
	db     *sqlx.DB
	client *storage.Client
}

func connect(dbPath string) (*sqlx.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	// URI filenames have to begin with 'file:'; see
	// https://www.sqlite.org/c3ref/open.html
	dsn := dbPath
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", dbPath, err))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pfx.Err(err)
	}

	return db, nil
}

// Index walks the dataset at root, which may be a local directory or a gs://
// prefix, and (re)builds the SQLite index at dbPath. Files whose names are not
// valid BIDS names are skipped.
func Index(ctx context.Context, root, dbPath string, opts Options) (*Layout, error) {
	db, err := connect(dbPath)
	if err != nil {
		return nil, err
	}

	l := &Layout{Root: root, db: db, client: opts.Client}
	if err := l.reindex(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return l, nil
}

// Client is the storage client used for gs:// datasets, or nil.
func (l *Layout) Client() *storage.Client {
	return l.client
}

func (l *Layout) Close() error {
	return l.db.Close()
}

func (l *Layout) reindex(ctx context.Context) error {
	rels, err := walk(ctx, l.Root, l.client)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files"); err != nil {
		return err
	}

	insert, err := tx.PrepareNamedContext(ctx, `INSERT INTO files
		(path, relpath, subject, session, task, acq, run, echo, suffix, extension, datatype, entities)
		VALUES (:path, :relpath, :subject, :session, :task, :acq, :run, :echo, :suffix, :extension, :datatype, :entities)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for _, rel := range rels {
		f, err := parseRel(l.Root, rel)
		if err != nil {
			continue
		}
		row, err := toRow(f)
		if err != nil {
			return err
		}
		if _, err := insert.ExecContext(ctx, row); err != nil {
			return pfx.Err(fmt.Errorf("indexing %s: %w", rel, err))
		}
	}

	return tx.Commit()
}

// Query selects indexed files. Empty fields match anything.
type Query struct {
	Subject    string
	Session    string
	Task       string
	Acq        string
	Run        string
	Echo       string
	Datatype   string
	Suffix     string
	Extensions []string
	// Entities must all match, including ones without a column of their own.
	Entities Entities
}

// Get returns the files matching q, ordered by path.
func (l *Layout) Get(q Query) ([]File, error) {
	clauses := []string{"1 = 1"}
	args := []interface{}{}

	for _, c := range []struct {
		column, value string
	}{
		{"subject", q.Subject},
		{"session", q.Session},
		{"task", q.Task},
		{"acq", q.Acq},
		{"run", q.Run},
		{"echo", q.Echo},
		{"datatype", q.Datatype},
		{"suffix", q.Suffix},
	} {
		if c.value == "" {
			continue
		}
		clauses = append(clauses, c.column+" = ?")
		args = append(args, c.value)
	}

	query := "SELECT * FROM files WHERE " + strings.Join(clauses, " AND ")
	if len(q.Extensions) > 0 {
		query += " AND extension IN (?)"
		args = append(args, q.Extensions)
	}
	query += " ORDER BY path"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}

	var rows []fileRow
	if err := l.db.Select(&rows, l.db.Rebind(query), args...); err != nil {
		return nil, pfx.Err(err)
	}

	out := make([]File, 0, len(rows))
	for _, r := range rows {
		f, err := r.file()
		if err != nil {
			return nil, err
		}
		if !q.Entities.Subset(f.Entities) {
			continue
		}
		out = append(out, f)
	}

	return out, nil
}

// File looks up one indexed file by its absolute path or its path relative to
// the dataset root.
func (l *Layout) File(p string) (File, error) {
	var rows []fileRow
	if err := l.db.Select(&rows, "SELECT * FROM files WHERE path = ? OR relpath = ?", p, filepath.ToSlash(p)); err != nil {
		return File{}, pfx.Err(err)
	}
	if len(rows) == 0 {
		return File{}, fmt.Errorf("%s is not part of the dataset at %s", p, l.Root)
	}

	return rows[0].file()
}

// Subjects lists subject labels, without the sub- prefix, sorted.
func (l *Layout) Subjects() ([]string, error) {
	var out []string
	if err := l.db.Select(&out, "SELECT DISTINCT subject FROM files WHERE subject != '' ORDER BY subject"); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// Sessions lists the session labels of a subject, sorted.
func (l *Layout) Sessions(subject string) ([]string, error) {
	var out []string
	err := l.db.Select(&out, "SELECT DISTINCT session FROM files WHERE subject = ? AND session != '' ORDER BY session", subject)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// Tasks lists every task label in the dataset, sorted.
func (l *Layout) Tasks() ([]string, error) {
	var out []string
	if err := l.db.Select(&out, "SELECT DISTINCT task FROM files WHERE task != '' ORDER BY task"); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}
