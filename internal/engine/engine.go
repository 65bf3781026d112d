// Package engine ties the record store, embedding model, cache snapshot and
// vector index together. It owns the consistency contract between the three
// stores: the cache and index always describe the same id set at every
// externally observable point, and both are reconciled against the record
// store at startup.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vanntrong/qaserve-go/internal/cache"
	"github.com/vanntrong/qaserve-go/internal/config"
	"github.com/vanntrong/qaserve-go/internal/embedder"
	"github.com/vanntrong/qaserve-go/internal/jobs"
	"github.com/vanntrong/qaserve-go/internal/locking"
	"github.com/vanntrong/qaserve-go/internal/store"
	"github.com/vanntrong/qaserve-go/internal/textutil"
	"github.com/vanntrong/qaserve-go/internal/vindex"
)

// Bounded-parallel embedding of large corpora during rebuild and reindex.
const (
	embedBatchSize   = 64
	embedParallelism = 4
)

// ResourceProbe reports current CPU and memory utilization percentages.
// Injectable so tests can force the retrain worker's resource guard.
type ResourceProbe func(ctx context.Context) (cpuPct, memPct float64, err error)

// Options configures a new Engine. Store, Embedder, Locker and Queue are
// required; Trainer may be nil when retraining is disabled (CLI one-shots).
type Options struct {
	Store    store.RecordStore
	Embedder embedder.Embedder
	Trainer  embedder.Trainer
	Locker   locking.Locker
	Queue    *jobs.Queue
	Config   config.Config
	Logger   *slog.Logger
	// Probe overrides the default gopsutil-backed resource probe.
	Probe ResourceProbe
}

// Engine is the ingestion, search and retrain coordinator. Safe for
// concurrent use: a single RWMutex guards the combined cache+index pair,
// searches take the read side.
type Engine struct {
	store   store.RecordStore
	emb     embedder.Embedder
	trainer embedder.Trainer
	locker  locking.Locker
	queue   *jobs.Queue
	cfg     config.Config
	log     *slog.Logger
	probe   ResourceProbe

	mu    sync.RWMutex
	cache *cache.Snapshot
	index *vindex.Index

	retrainMu        sync.Mutex
	lastRetrainTime  time.Time
	lastRetrainCount int64
}

// New assembles an Engine. Call Reconcile before serving traffic.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Embedder == nil || opts.Locker == nil {
		return nil, fmt.Errorf("engine: store, embedder and locker are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Probe == nil {
		opts.Probe = probeResources
	}

	dims := opts.Config.Model.Dimensions
	ix, err := vindex.New(dims)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{
		store:   opts.Store,
		emb:     opts.Embedder,
		trainer: opts.Trainer,
		locker:  opts.Locker,
		queue:   opts.Queue,
		cfg:     opts.Config,
		log:     opts.Logger,
		probe:   opts.Probe,
		cache:   cache.New(),
		index:   ix,
	}, nil
}

// CorpusSize returns the number of records currently mirrored in the cache.
func (e *Engine) CorpusSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Len()
}

// Close releases the vector index.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil {
		return nil
	}
	err := e.index.Close()
	e.index = nil
	return err
}

// Reconcile brings the cache and index in line with the record store. A
// persisted snapshot whose row count and freshness match the store is
// adopted as-is; any mismatch, missing file or schema drift triggers a
// full rebuild. Calling Reconcile again on a matching state is a no-op.
func (e *Engine) Reconcile(ctx context.Context) error {
	count, err := e.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("engine: reconcile: %w", err)
	}
	maxTS, err := e.store.MaxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("engine: reconcile: %w", err)
	}

	snap, err := cache.Load(e.cfg.Snapshot.CachePath)
	if err != nil {
		e.log.Info("cache snapshot unusable, rebuilding", "reason", err)
		return e.rebuild(ctx)
	}
	if int64(snap.Len()) != count || snap.LastUpdated.Before(maxTS) {
		e.log.Info("cache snapshot stale, rebuilding",
			"snapshot_rows", snap.Len(), "store_rows", count)
		return e.rebuild(ctx)
	}

	// The index is only trusted when its pairing metadata matches the cache
	// snapshot it claims to accompany. A mismatch (interrupted persist, lost
	// meta file) is repaired from the cache's stored embeddings, which needs
	// no re-embedding.
	var ix *vindex.Index
	repaired := false
	meta, err := vindex.ReadMeta(e.cfg.Snapshot.IndexPath)
	switch {
	case err != nil:
		e.log.Info("index pairing metadata unusable, rebuilding index from cache",
			"reason", err)
	case meta.Rows != snap.Len() || !meta.Stamp.Equal(snap.LastUpdated):
		e.log.Info("index snapshot does not pair with cache, rebuilding index from cache",
			"index_rows", meta.Rows, "cache_rows", snap.Len())
	default:
		ix, err = vindex.Load(e.cfg.Snapshot.IndexPath, meta.Rows, meta.Dims)
		if err != nil {
			e.log.Info("index snapshot unusable, rebuilding index from cache",
				"reason", err)
			ix = nil
		}
	}
	if ix == nil {
		ix, err = e.indexFromSnapshot(ctx, snap)
		if err != nil {
			return fmt.Errorf("engine: reconcile: %w", err)
		}
		repaired = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index != nil {
		_ = e.index.Close()
	}
	e.cache = snap
	e.index = ix
	if repaired {
		if err := e.index.Save(ctx, e.cfg.Snapshot.IndexPath, e.locker, snap.LastUpdated); err != nil {
			return fmt.Errorf("engine: reconcile: %w", err)
		}
	}
	e.log.Info("reconciled from snapshots", "rows", snap.Len(), "index_repaired", repaired)
	return nil
}

// indexFromSnapshot builds a fresh index from the embeddings already held
// in a cache snapshot.
func (e *Engine) indexFromSnapshot(ctx context.Context, snap *cache.Snapshot) (*vindex.Index, error) {
	dims := snap.Dimensions()
	if dims == 0 {
		dims = e.cfg.Model.Dimensions
	}
	ix, err := vindex.New(dims)
	if err != nil {
		return nil, err
	}
	if err := ix.Append(ctx, snap.IDs, snap.Embeddings); err != nil {
		_ = ix.Close()
		return nil, err
	}
	return ix, nil
}

// rebuild replaces the cache and index wholesale from the record store:
// read all records, re-clean, re-embed, persist both artifacts.
func (e *Engine) rebuild(ctx context.Context) error {
	records, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("engine: rebuild: %w", err)
	}

	n := len(records)
	ids := make([]int64, n)
	questions := make([]string, n)
	answers := make([]string, n)
	cleanQuestions := make([]string, n)
	cleanAnswers := make([]string, n)
	for i, r := range records {
		ids[i] = r.ID
		questions[i] = r.Question
		answers[i] = r.Answer
		cleanQuestions[i] = textutil.Clean(r.Question)
		cleanAnswers[i] = textutil.Clean(r.Answer)
	}

	vectors, err := e.embedAll(ctx, cleanQuestions)
	if err != nil {
		return fmt.Errorf("engine: rebuild: %w", err)
	}

	snap := cache.New()
	if err := snap.Append(ids, vectors, questions, answers, cleanQuestions, cleanAnswers); err != nil {
		return fmt.Errorf("engine: rebuild: %w", err)
	}

	ix, err := e.indexFromSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("engine: rebuild: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index != nil {
		_ = e.index.Close()
	}
	e.cache = snap
	e.index = ix
	if err := e.persistLocked(ctx); err != nil {
		return err
	}
	e.log.Info("rebuilt cache and index", "rows", n)
	return nil
}

// persistLocked writes both artifacts. Caller holds e.mu exclusively.
func (e *Engine) persistLocked(ctx context.Context) error {
	if err := cache.Save(ctx, e.cache, e.cfg.Snapshot.CachePath, e.locker); err != nil {
		return fmt.Errorf("engine: persist: %w", err)
	}
	if err := e.index.Save(ctx, e.cfg.Snapshot.IndexPath, e.locker, e.cache.LastUpdated); err != nil {
		return fmt.Errorf("engine: persist: %w", err)
	}
	return nil
}

// embedAll embeds texts in fixed-size batches with bounded parallelism.
// The result is parallel to texts.
func (e *Engine) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.emb.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: embed batch: %w", err)
	}
	return out, nil
}
