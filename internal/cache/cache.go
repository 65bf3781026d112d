// Package cache provides the process-local, persisted mirror of the record
// store: ids, embeddings, raw and cleaned text as parallel sequences. The
// snapshot is the read path for search and the source the vector index is
// built from, so its parallel-length invariant is validated at every
// mutation boundary.
//
// Persistence is a full-file overwrite of gzip-compressed JSON carrying an
// explicit schema-version field, written under the cache-lock.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/vanntrong/qaserve-go/internal/locking"
)

// SchemaVersion is the current snapshot file format version. Bump on any
// incompatible field change; Load rejects files with a different version so
// stale snapshots trigger a rebuild instead of a misread.
const SchemaVersion = 1

// Lock bounds for persisting the snapshot.
const (
	holdTimeout = 60 * time.Second
	waitTimeout = 10 * time.Second
)

// ErrSchemaVersion is returned by Load when the file carries an
// incompatible schema version.
var ErrSchemaVersion = errors.New("cache: incompatible snapshot schema version")

// Snapshot mirrors the record store. Index i across all parallel sequences
// describes one logical record.
type Snapshot struct {
	// Version is the snapshot file schema version.
	Version int `json:"schema_version"`
	// IDs are the record ids, unique, in insertion order.
	IDs []int64 `json:"ids"`
	// Embeddings is the N×D matrix of question embeddings.
	Embeddings [][]float32 `json:"embeddings"`
	// Questions are the raw question texts.
	Questions []string `json:"questions"`
	// Answers are the raw answer texts.
	Answers []string `json:"answers"`
	// CleanQuestions are the normalized question texts.
	CleanQuestions []string `json:"clean_questions"`
	// CleanAnswers are the normalized answer texts.
	CleanAnswers []string `json:"clean_answers"`
	// LastUpdated is when the snapshot last absorbed a mutation.
	LastUpdated time.Time `json:"last_updated"`
}

// New returns an empty snapshot at the current schema version.
func New() *Snapshot {
	return &Snapshot{Version: SchemaVersion}
}

// Len returns the number of mirrored records.
func (s *Snapshot) Len() int { return len(s.IDs) }

// Dimensions returns the embedding dimensionality, or 0 when empty.
func (s *Snapshot) Dimensions() int {
	if len(s.Embeddings) == 0 {
		return 0
	}
	return len(s.Embeddings[0])
}

// Validate checks the parallel-sequence invariant: every sequence has the
// same length and ids are unique.
func (s *Snapshot) Validate() error {
	n := len(s.IDs)
	for _, got := range []struct {
		name string
		l    int
	}{
		{"embeddings", len(s.Embeddings)},
		{"questions", len(s.Questions)},
		{"answers", len(s.Answers)},
		{"clean_questions", len(s.CleanQuestions)},
		{"clean_answers", len(s.CleanAnswers)},
	} {
		if got.l != n {
			return fmt.Errorf("cache: %s length %d != ids length %d", got.name, got.l, n)
		}
	}

	seen := make(map[int64]struct{}, n)
	for _, id := range s.IDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("cache: duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Append adds records to all parallel sequences in one logical step and
// stamps LastUpdated. All argument slices must have equal length; the
// snapshot is left unchanged on validation failure.
func (s *Snapshot) Append(ids []int64, embeddings [][]float32, questions, answers, cleanQuestions, cleanAnswers []string) error {
	n := len(ids)
	if len(embeddings) != n || len(questions) != n || len(answers) != n ||
		len(cleanQuestions) != n || len(cleanAnswers) != n {
		return fmt.Errorf("cache: append with mismatched sequence lengths (ids=%d)", n)
	}

	s.IDs = append(s.IDs, ids...)
	s.Embeddings = append(s.Embeddings, embeddings...)
	s.Questions = append(s.Questions, questions...)
	s.Answers = append(s.Answers, answers...)
	s.CleanQuestions = append(s.CleanQuestions, cleanQuestions...)
	s.CleanAnswers = append(s.CleanAnswers, cleanAnswers...)
	s.LastUpdated = time.Now()

	if err := s.Validate(); err != nil {
		s.TruncateTo(s.Len() - n)
		return err
	}
	return nil
}

// TruncateTo shrinks all parallel sequences back to n entries. Used to roll
// back an in-memory append whose paired index mutation failed.
func (s *Snapshot) TruncateTo(n int) {
	if n < 0 || n > len(s.IDs) {
		return
	}
	s.IDs = s.IDs[:n]
	s.Embeddings = s.Embeddings[:n]
	s.Questions = s.Questions[:n]
	s.Answers = s.Answers[:n]
	s.CleanQuestions = s.CleanQuestions[:n]
	s.CleanAnswers = s.CleanAnswers[:n]
}

// IndexByID returns a map from record id to position in the parallel
// sequences. Built per search call; the snapshot itself stays index-free.
func (s *Snapshot) IndexByID() map[int64]int {
	m := make(map[int64]int, len(s.IDs))
	for i, id := range s.IDs {
		m[id] = i
	}
	return m
}

// Save writes the snapshot as a full-file overwrite under the cache-lock.
// The write goes to a temp file first and is renamed into place so readers
// never observe a torn file.
func Save(ctx context.Context, s *Snapshot, path string, locker locking.Locker) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("cache: refusing to persist invalid snapshot: %w", err)
	}

	guard, err := locker.Acquire(ctx, locking.CacheLock, holdTimeout, waitTimeout)
	if err != nil {
		return fmt.Errorf("cache: save: %w", err)
	}
	defer guard.Release()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cache: save mkdir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cache: save create: %w", err)
	}

	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: save encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: save compress: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: save close: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: save rename: %w", err)
	}
	return nil
}

// Load reads a persisted snapshot. A missing file is returned as
// (nil, fs.ErrNotExist); an incompatible schema version as ErrSchemaVersion.
// Both cause the caller to rebuild from the record store.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: load: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("cache: load decompress: %w", err)
	}
	defer zr.Close()

	var s Snapshot
	if err := json.NewDecoder(zr).Decode(&s); err != nil {
		return nil, fmt.Errorf("cache: load decode: %w", err)
	}
	if s.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: file=%d current=%d", ErrSchemaVersion, s.Version, SchemaVersion)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("cache: load: %w", err)
	}
	return &s, nil
}
