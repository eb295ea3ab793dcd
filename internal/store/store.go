// Package store is a small document store on SQLite: named collections of
// JSON documents addressed by id. The pipeline needs nothing fancier than
// bulk upsert, bulk insert, whole-collection replace, append and fetch-all.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Collection names used by the pipeline.
const (
	CollectionPrompts  = "prompts"
	CollectionEvidence = "evidence"
	CollectionInvalid  = "invalid"
)

// Document is one stored record.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database file and its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`)
	return err
}

// UpsertMany inserts or replaces documents by id.
func (s *Store) UpsertMany(ctx context.Context, collection string, docs []Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO documents (collection, id, body) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, collection, d.ID, string(d.Body)); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertMany inserts documents, failing on duplicate ids.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, collection, d.ID, string(d.Body)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceAll clears the collection and inserts docs in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, collection string, docs []Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ?`, collection); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, collection, d.ID, string(d.Body)); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendAll adds documents to a collection, keeping what is already there
// and skipping ids that already exist. This is the explicit append the
// paired copy-then-clear collection rotation used to simulate.
func (s *Store) AppendAll(ctx context.Context, collection string, docs []Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO documents (collection, id, body) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, collection, d.ID, string(d.Body)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every document in the collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ?`, collection)
	return err
}

// FetchAll returns every document in the collection, ordered by id for
// deterministic iteration.
func (s *Store) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var body string
		if err := rows.Scan(&d.ID, &body); err != nil {
			return nil, err
		}
		d.Body = json.RawMessage(body)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Marshal is a convenience for building a document from any value.
func Marshal(id string, v any) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("marshal document %s: %w", id, err)
	}
	return Document{ID: id, Body: body}, nil
}
