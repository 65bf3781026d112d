// Package vindex wraps the vector index used for nearest-neighbor search
// over question embeddings. The index is a flat squared-L2 index whose
// per-vector payload is the record id, so search results map back to store
// rows without a separate id table.
//
// The wrapper is not safe for concurrent mutation; the engine serializes
// access with its own lock. Persistence is a full-file overwrite under the
// index-lock with bounded retries.
package vindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/vecgo"

	"github.com/vanntrong/qaserve-go/internal/locking"
)

// DefaultDimensions is the embedding dimensionality assumed when building
// an index before any vectors exist.
const DefaultDimensions = 768

// Persistence lock bounds and retry policy.
const (
	holdTimeout = 120 * time.Second
	waitTimeout = 20 * time.Second

	saveAttempts = 3
	saveDelay    = 2 * time.Second
)

// Match is one nearest-neighbor hit, identified by record id.
type Match struct {
	RecordID int64
	Distance float32
}

// Index is a flat squared-L2 vector index keyed by record id.
type Index struct {
	vg   *vecgo.Vecgo[int64]
	dims int
	size int
}

// New returns an empty index with the given dimensionality. A
// non-positive dims falls back to DefaultDimensions.
func New(dims int) (*Index, error) {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vg, err := vecgo.Flat[int64](dims).SquaredL2().Build()
	if err != nil {
		return nil, fmt.Errorf("vindex: build: %w", err)
	}
	return &Index{vg: vg, dims: dims}, nil
}

// Dimensions returns the index dimensionality.
func (ix *Index) Dimensions() int { return ix.dims }

// Len returns the number of indexed vectors.
func (ix *Index) Len() int { return ix.size }

// Append inserts vectors with their record ids. Lengths must match. On a
// partial failure the index may contain a prefix of the batch; the caller
// rebuilds from its source of truth in that case.
func (ix *Index) Append(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("vindex: append: %d ids for %d vectors", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	items := make([]vecgo.VectorWithData[int64], len(ids))
	for i, id := range ids {
		items[i] = vecgo.VectorWithData[int64]{Vector: vectors[i], Data: id}
	}

	res := ix.vg.BatchInsert(ctx, items)
	for i, err := range res.Errors {
		if err != nil {
			ix.size += i
			return fmt.Errorf("vindex: append item %d: %w", i, err)
		}
	}
	ix.size += len(ids)
	return nil
}

// Search returns up to k nearest neighbors of query by squared L2
// distance, nearest first. An empty index returns no matches.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if ix.size == 0 || k <= 0 {
		return nil, nil
	}
	if k > ix.size {
		k = ix.size
	}

	results, err := ix.vg.KNNSearch(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("vindex: search: %w", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{RecordID: r.Data, Distance: r.Distance}
	}
	return matches, nil
}

// Meta describes a persisted index file and pairs it with the cache
// snapshot it was written alongside. Stamp carries the cache snapshot's
// LastUpdated; a loader that finds a different stamp or row count knows the
// two artifacts were not persisted together.
type Meta struct {
	Rows  int       `json:"rows"`
	Dims  int       `json:"dims"`
	Stamp time.Time `json:"last_updated"`
}

// metaPath is the sidecar file carrying the pairing metadata.
func metaPath(path string) string { return path + ".meta" }

// ReadMeta reads the pairing metadata persisted next to an index file.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(metaPath(path))
	if err != nil {
		return Meta{}, fmt.Errorf("vindex: read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("vindex: decode meta: %w", err)
	}
	return m, nil
}

// Save persists the index as a full-file overwrite under the index-lock,
// then writes the pairing metadata. stamp is the LastUpdated of the cache
// snapshot this index was built against. Transient write failures are
// retried a fixed number of times before giving up.
func (ix *Index) Save(ctx context.Context, path string, locker locking.Locker, stamp time.Time) error {
	guard, err := locker.Acquire(ctx, locking.IndexLock, holdTimeout, waitTimeout)
	if err != nil {
		return fmt.Errorf("vindex: save: %w", err)
	}
	defer guard.Release()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("vindex: save mkdir: %w", err)
	}

	tmp := path + ".tmp"
	var lastErr error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if lastErr = ix.vg.SaveToFile(tmp); lastErr == nil {
			break
		}
		if attempt < saveAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("vindex: save: %w", ctx.Err())
			case <-time.After(saveDelay):
			}
		}
	}
	if lastErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("vindex: save after %d attempts: %w", saveAttempts, lastErr)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("vindex: save rename: %w", err)
	}

	meta, err := json.Marshal(Meta{Rows: ix.size, Dims: ix.dims, Stamp: stamp})
	if err != nil {
		return fmt.Errorf("vindex: encode meta: %w", err)
	}
	metaTmp := metaPath(path) + ".tmp"
	if err := os.WriteFile(metaTmp, meta, 0o600); err != nil {
		return fmt.Errorf("vindex: save meta: %w", err)
	}
	if err := os.Rename(metaTmp, metaPath(path)); err != nil {
		_ = os.Remove(metaTmp)
		return fmt.Errorf("vindex: save meta rename: %w", err)
	}
	return nil
}

// Load reads a persisted index. size and dims describe the expected
// contents and come from the pairing metadata (ReadMeta); the caller
// verifies the pairing against its cache snapshot before trusting the
// loaded index.
func Load(path string, size, dims int) (*Index, error) {
	vg, err := vecgo.NewFromFile[int64](path)
	if err != nil {
		return nil, fmt.Errorf("vindex: load: %w", err)
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Index{vg: vg, dims: dims, size: size}, nil
}

// Close releases index resources.
func (ix *Index) Close() error {
	if err := ix.vg.Close(); err != nil {
		return fmt.Errorf("vindex: close: %w", err)
	}
	return nil
}
