// Package docstore is a SQLite-backed remote document store.
//
// It provides what the sync engine needs from a hosted document database: atomic
// batch writes, field merges, and recursive deletes by path. Documents live at
// slash-separated paths ("surveys/s1/lois/l1") and are stored as JSON.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/remote"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    path TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    doc TEXT NOT NULL,
    update_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, path);
`

// Store is a remote document store backed by a SQLite file.
type Store struct {
	db    *sql.DB
	codec remote.Codec
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the clock used for document update times.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens a document store at path.
func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init document store: %w", err)
		}
	}

	s := &Store{db: db, codec: remote.NewCodec(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Commit applies writes atomically. OpMerge replaces the listed top level fields of
// a document (creating it if needed); OpDelete removes a document and every
// document below its path.
func (s *Store) Commit(ctx context.Context, writes []remote.Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	for i, w := range writes {
		if err := validatePath(w.Path); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
		switch w.Op {
		case remote.OpMerge:
			err = merge(ctx, tx, w.Path, w.Data, now)
		case remote.OpDelete:
			err = deleteRecursive(ctx, tx, w.Path)
		default:
			err = fmt.Errorf("unknown write op %q", w.Op)
		}
		if err != nil {
			return fmt.Errorf("write %d (%s %s): %w", i, w.Op, w.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func merge(ctx context.Context, tx *sql.Tx, docPath string, fields map[string]any, now int64) error {
	current := map[string]any{}
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = ?`, docPath).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		if current, err = decodeJSON(raw); err != nil {
			return fmt.Errorf("stored document: %w", err)
		}
	}

	for k, v := range fields {
		current[k] = v
	}
	b, err := json.Marshal(current)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (path, collection, doc, update_time) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET doc = excluded.doc, update_time = excluded.update_time
	`, docPath, path.Dir(docPath), string(b), now)
	return err
}

func deleteRecursive(ctx context.Context, tx *sql.Tx, docPath string) error {
	prefix := docPath + "/"
	_, err := tx.ExecContext(ctx, `
		DELETE FROM documents
		WHERE path = ? OR substr(path, 1, ?) = ?
	`, docPath, len(prefix), prefix)
	return err
}

// Get returns the document at path.
func (s *Store) Get(ctx context.Context, docPath string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE path = ?`, docPath).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", docPath, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", docPath, err)
	}
	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", docPath, err)
	}
	return doc, nil
}

// List returns the paths of the documents directly inside a collection, ordered.
func (s *Store) List(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM documents WHERE collection = ? ORDER BY path ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// SeedSurvey publishes a survey definition.
func (s *Store) SeedSurvey(ctx context.Context, survey model.Survey) error {
	doc, err := s.codec.Encode(survey)
	if err != nil {
		return fmt.Errorf("seed survey %s: %w", survey.ID, err)
	}
	return s.Commit(ctx, []remote.Write{{Path: model.SurveyDocumentPath(survey.ID), Op: remote.OpMerge, Data: doc}})
}

// FetchSurvey reads a survey definition.
func (s *Store) FetchSurvey(ctx context.Context, surveyID string) (model.Survey, error) {
	doc, err := s.Get(ctx, model.SurveyDocumentPath(surveyID))
	if err != nil {
		return model.Survey{}, err
	}
	var survey model.Survey
	if err := s.codec.Decode(doc, &survey); err != nil {
		return model.Survey{}, fmt.Errorf("decode survey %s: %w", surveyID, err)
	}
	return survey, nil
}

// FetchLocationsOfInterest reads every location of interest of a survey.
func (s *Store) FetchLocationsOfInterest(ctx context.Context, surveyID string) ([]model.LocationOfInterest, error) {
	paths, err := s.List(ctx, model.SurveyDocumentPath(surveyID)+"/lois")
	if err != nil {
		return nil, err
	}
	lois := make([]model.LocationOfInterest, 0, len(paths))
	for _, p := range paths {
		doc, err := s.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		var loi model.LocationOfInterest
		if err := s.codec.Decode(doc, &loi); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		loi.State = model.EntityStateDefault
		lois = append(lois, loi)
	}
	return lois, nil
}

func validatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") || strings.Contains(p, "//") {
		return fmt.Errorf("invalid document path %q", p)
	}
	return nil
}

func decodeJSON(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
