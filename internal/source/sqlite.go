package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// SQLiteSource reads collections from a single SQLite database. Documents
// live in one table keyed by (collection, doc_id); field payloads are
// stored as snappy-compressed JSON blobs.
type SQLiteSource struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteSource opens (or creates) a SQLite-backed document store.
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("failed to open document store %s", dbPath), err)
	}
	db.SetMaxOpenConns(1)

	createSQL := `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			doc_id     TEXT NOT NULL,
			fields     BLOB NOT NULL,
			PRIMARY KEY (collection, doc_id)
		)
	`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			"failed to initialize documents table", err)
	}

	return &SQLiteSource{db: db, dbPath: dbPath}, nil
}

// Put inserts or replaces a document. Used by ingestion tooling and tests;
// the fusion pipeline itself only reads.
func (s *SQLiteSource) Put(ctx context.Context, collection, docID string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return pipeerrors.NewInternalError("failed to encode document fields", err)
	}
	compressed := snappy.Encode(nil, payload)

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO documents (collection, doc_id, fields) VALUES (?, ?, ?)",
		collection, docID, compressed)
	if err != nil {
		return pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("failed to write document %s/%s", collection, docID), err)
	}
	return nil
}

// FetchStream returns all documents in the stream's collection, ordered by
// document ID for deterministic arrival order.
func (s *SQLiteSource) FetchStream(ctx context.Context, kind types.StreamKind) ([]RawRecord, error) {
	collection, ok := CollectionFor(kind)
	if !ok {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeUnknownCollection,
			fmt.Sprintf("no collection for stream %q", kind), types.ErrUnknownStream)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_id, fields FROM documents WHERE collection = ? ORDER BY doc_id",
		collection)
	if err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("failed to query collection %s", collection), err)
	}
	defer rows.Close()

	var records []RawRecord
	for rows.Next() {
		var docID string
		var compressed []byte
		if err := rows.Scan(&docID, &compressed); err != nil {
			return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
				fmt.Sprintf("failed to scan document in %s", collection), err)
		}

		payload, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
				fmt.Sprintf("document %s/%s payload is corrupted", collection, docID), err)
		}

		var fields map[string]any
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
				fmt.Sprintf("document %s/%s is not valid JSON", collection, docID), err)
		}

		records = append(records, RawRecord{
			Collection: collection,
			ID:         docID,
			Fields:     fields,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("failed to iterate collection %s", collection), err)
	}

	return records, nil
}

// Collections lists the distinct collection names in the store, sorted.
func (s *SQLiteSource) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			"failed to list collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
				"failed to scan collection name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
