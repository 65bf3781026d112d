// Package store provides the SQLite-backed durable record store for
// question/answer pairs. Records are append-only; the embedding column is
// rewritten only by the post-retrain reindex. The store also holds the
// dead-letter table where background jobs that exhausted their retries are
// parked for manual replay.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// EmbeddingWriteBatchSize is the per-transaction row count used when the
// reindex job writes embeddings back to the store.
const EmbeddingWriteBatchSize = 1000

// Record is one stored question/answer pair.
type Record struct {
	// ID is the store-assigned monotonic identifier.
	ID int64
	// CreatedAt is when the record was inserted.
	CreatedAt time.Time
	// Question is the raw (pre-clean) question text.
	Question string
	// Answer is the raw (pre-clean) answer text.
	Answer string
	// Embedding is the stored vector for the cleaned question.
	// Nil until the first embedding write.
	Embedding []float32
}

// NewRecord is the insert shape for a record; the ID is assigned by the store.
type NewRecord struct {
	Question  string
	Answer    string
	Embedding []float32
}

// DeadLetter is a background job that exhausted its retry budget.
type DeadLetter struct {
	// ID is the dead-letter row id.
	ID int64
	// JobID is the queue-assigned job identifier.
	JobID string
	// JobName is the registered job name.
	JobName string
	// Error is the final failure message.
	Error string
	// FailedAt is when the job was parked.
	FailedAt time.Time
}

// RecordStore is the interface consumed by the engine and the background
// workers. Implementations must be safe for concurrent use.
type RecordStore interface {
	// Count returns the total number of stored records.
	Count(ctx context.Context) (int64, error)
	// MaxTimestamp returns the newest record timestamp, or the zero time
	// when the store is empty.
	MaxTimestamp(ctx context.Context) (time.Time, error)
	// FindExact reports whether a record with byte-identical raw question
	// and answer already exists.
	FindExact(ctx context.Context, question, answer string) (bool, error)
	// InsertBatch appends records in one transaction and returns their
	// assigned ids in input order.
	InsertBatch(ctx context.Context, recs []NewRecord) ([]int64, error)
	// All returns every record ordered by id.
	All(ctx context.Context) ([]Record, error)
	// UpdateEmbeddings rewrites the embedding column for the given ids in
	// bounded batches, committing per batch. ids and vectors are parallel.
	UpdateEmbeddings(ctx context.Context, ids []int64, vectors [][]float32, batchSize int) error
	// Close releases the underlying connection pool.
	Close() error
}

// DeadLetterStore parks and lists jobs that exhausted their retries.
type DeadLetterStore interface {
	// ParkJob records a permanently failed background job.
	ParkJob(ctx context.Context, jobID, jobName, errMsg string) error
	// DeadLetters returns parked jobs ordered oldest-first.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)
}

// SQLiteStore implements RecordStore and DeadLetterStore on a local SQLite
// database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ RecordStore = (*SQLiteStore)(nil)
var _ DeadLetterStore = (*SQLiteStore)(nil)

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS qa_pairs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    question    TEXT    NOT NULL,
    answer      TEXT    NOT NULL,
    embedding   BLOB
);
CREATE INDEX IF NOT EXISTS idx_qa_pairs_created ON qa_pairs (created_at);

CREATE TABLE IF NOT EXISTS dead_letter (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT    NOT NULL,
    job_name   TEXT    NOT NULL,
    error      TEXT    NOT NULL,
    failed_at  INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Count returns the total number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qa_pairs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// MaxTimestamp returns the newest record timestamp, or the zero time when
// the store is empty.
func (s *SQLiteStore) MaxTimestamp(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM qa_pairs`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("store: max timestamp: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0), nil
}

// FindExact reports whether a record with byte-identical raw question and
// answer already exists. Used by ingestion for duplicate detection.
func (s *SQLiteStore) FindExact(ctx context.Context, question, answer string) (bool, error) {
	const q = `SELECT id FROM qa_pairs WHERE question = ? AND answer = ? LIMIT 1`
	var id int64
	err := s.db.QueryRowContext(ctx, q, question, answer).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("store: find exact: %w", err)
	}
	return true, nil
}

// InsertBatch appends records in a single transaction and returns their
// assigned ids in input order.
func (s *SQLiteStore) InsertBatch(ctx context.Context, recs []NewRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: insert batch begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `INSERT INTO qa_pairs (created_at, question, answer, embedding) VALUES (?, ?, ?, ?)`
	now := time.Now().Unix()

	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		res, err := tx.ExecContext(ctx, q, now, r.Question, r.Answer, encodeVector(r.Embedding))
		if err != nil {
			return nil, fmt.Errorf("store: insert batch: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("store: insert batch id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: insert batch commit: %w", err)
	}
	return ids, nil
}

// All returns every record ordered by id. Rows are read in pages so a large
// corpus never requires one oversized result set.
func (s *SQLiteStore) All(ctx context.Context) ([]Record, error) {
	const pageSize = 1000
	const q = `
SELECT id, created_at, question, answer, embedding
FROM   qa_pairs
WHERE  id > ?
ORDER  BY id ASC
LIMIT  ?`

	var out []Record
	lastID := int64(0)
	for {
		rows, err := s.db.QueryContext(ctx, q, lastID, pageSize)
		if err != nil {
			return nil, fmt.Errorf("store: select page: %w", err)
		}

		n := 0
		for rows.Next() {
			var r Record
			var ts int64
			var blob []byte
			if err := rows.Scan(&r.ID, &ts, &r.Question, &r.Answer, &blob); err != nil {
				rows.Close()
				return nil, fmt.Errorf("store: select scan: %w", err)
			}
			r.CreatedAt = time.Unix(ts, 0)
			r.Embedding = decodeVector(blob)
			out = append(out, r)
			lastID = r.ID
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: select rows: %w", err)
		}
		rows.Close()

		if n < pageSize {
			return out, nil
		}
	}
}

// UpdateEmbeddings rewrites the embedding column for the given ids in
// batches of batchSize, committing each batch in its own transaction.
func (s *SQLiteStore) UpdateEmbeddings(ctx context.Context, ids []int64, vectors [][]float32, batchSize int) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("store: update embeddings: %d ids but %d vectors", len(ids), len(vectors))
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	const q = `UPDATE qa_pairs SET embedding = ? WHERE id = ?`
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: update embeddings begin: %w", err)
		}
		for i := start; i < end; i++ {
			if _, err := tx.ExecContext(ctx, q, encodeVector(vectors[i]), ids[i]); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("store: update embedding id=%d: %w", ids[i], err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: update embeddings commit: %w", err)
		}
	}
	return nil
}

// ParkJob records a background job that exhausted its retries.
func (s *SQLiteStore) ParkJob(ctx context.Context, jobID, jobName, errMsg string) error {
	const q = `INSERT INTO dead_letter (job_id, job_name, error, failed_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, jobID, jobName, errMsg, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: park job: %w", err)
	}
	return nil
}

// DeadLetters returns parked jobs ordered oldest-first.
func (s *SQLiteStore) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	const q = `SELECT id, job_id, job_name, error, failed_at FROM dead_letter ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var ts int64
		if err := rows.Scan(&d.ID, &d.JobID, &d.JobName, &d.Error, &ts); err != nil {
			return nil, fmt.Errorf("store: dead letters scan: %w", err)
		}
		d.FailedAt = time.Unix(ts, 0)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: dead letters rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeVector serializes a float32 vector to little-endian bytes for the
// embedding BLOB column. Nil vectors map to a NULL column.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes an embedding BLOB; returns nil for NULL or
// malformed (non multiple-of-4) blobs.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
