package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/vanntrong/qaserve-go/internal/embedder"
	"github.com/vanntrong/qaserve-go/internal/jobs"
	"github.com/vanntrong/qaserve-go/internal/locking"
	"github.com/vanntrong/qaserve-go/internal/store"
	"github.com/vanntrong/qaserve-go/internal/textutil"
)

// Job names as they appear in logs and the dead-letter table.
const (
	retrainJobName = "retrain"
	reindexJobName = "reindex"
)

// Fine-tune lock bounds and model fitting retry policy.
const (
	fineTuneHold = time.Hour
	fineTuneWait = 60 * time.Second

	fitAttempts   = 3
	fitRetryDelay = 10 * time.Second
)

// ErrNoTrainer is returned when a retrain is requested but no trainer was
// configured.
var ErrNoTrainer = errors.New("engine: no trainer configured")

// TriggerRetrain evaluates the retrain gates and enqueues a retrain job
// when they all pass. Gates: enough new records since the last retrain,
// minimum corpus size, and (unless manual) minimum elapsed time. The
// counters advance at enqueue time so concurrent triggers cannot double-
// schedule the same growth.
func (e *Engine) TriggerRetrain(ctx context.Context, manual bool) (bool, error) {
	if e.trainer == nil || e.queue == nil {
		return false, ErrNoTrainer
	}

	count, err := e.store.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("engine: retrain trigger: %w", err)
	}

	e.retrainMu.Lock()
	defer e.retrainMu.Unlock()

	if count < e.cfg.Retrain.MinRows {
		e.log.Debug("retrain skipped: corpus too small",
			"rows", count, "min_rows", e.cfg.Retrain.MinRows)
		return false, nil
	}
	if count-e.lastRetrainCount < e.cfg.Retrain.Threshold {
		e.log.Debug("retrain skipped: below growth threshold",
			"new_rows", count-e.lastRetrainCount, "threshold", e.cfg.Retrain.Threshold)
		return false, nil
	}
	if !manual && time.Since(e.lastRetrainTime) < e.cfg.Retrain.MinInterval.Std() {
		e.log.Debug("retrain skipped: inside minimum interval",
			"since_last", time.Since(e.lastRetrainTime))
		return false, nil
	}

	jobID, ok := e.queue.Enqueue(jobs.Job{Name: retrainJobName, Run: e.runRetrain})
	if !ok {
		e.log.Warn("retrain job dropped: queue full")
		return false, nil
	}
	e.lastRetrainTime = time.Now()
	e.lastRetrainCount = count
	e.log.Info("retrain scheduled", "job_id", jobID, "rows", count, "manual", manual)
	return true, nil
}

// runRetrain is the retrain job body. Insufficient data, insufficient
// resources or an empty pair set end the job cleanly (soft failures);
// model fitting exhaustion is a hard failure handed back to the jobs
// runtime for retry and eventual dead-lettering.
func (e *Engine) runRetrain(ctx context.Context) error {
	guard, err := e.locker.Acquire(ctx, locking.FineTuneLock, fineTuneHold, fineTuneWait)
	if err != nil {
		return fmt.Errorf("engine: retrain: %w", err)
	}
	defer guard.Release()

	records, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("engine: retrain: %w", err)
	}
	if int64(len(records)) < e.cfg.Retrain.MinRows {
		e.log.Warn("retrain aborted: not enough training data",
			"rows", len(records), "min_rows", e.cfg.Retrain.MinRows)
		return nil
	}

	cpuPct, memPct, err := e.probe(ctx)
	if err != nil {
		e.log.Warn("resource probe failed, proceeding", "error", err)
	} else if limit := e.cfg.Retrain.ResourceLimitPercent; cpuPct > limit || memPct > limit {
		e.log.Warn("retrain postponed: host under load",
			"cpu_pct", cpuPct, "mem_pct", memPct, "limit_pct", limit)
		return nil
	}

	pairs := buildTrainingPairs(records)
	if len(pairs) == 0 {
		e.log.Warn("retrain aborted: no usable training pairs", "rows", len(records))
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= fitAttempts; attempt++ {
		if lastErr = e.trainer.Fit(ctx, pairs); lastErr == nil {
			break
		}
		e.log.Warn("model fit attempt failed",
			"attempt", attempt, "max_attempts", fitAttempts, "error", lastErr)
		if attempt < fitAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("engine: retrain: %w", ctx.Err())
			case <-time.After(fitRetryDelay):
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("engine: retrain: fit after %d attempts: %w", fitAttempts, lastErr)
	}

	if err := e.trainer.Reload(ctx); err != nil {
		return fmt.Errorf("engine: retrain: %w", err)
	}

	e.retrainMu.Lock()
	e.lastRetrainTime = time.Now()
	e.lastRetrainCount = int64(len(records))
	e.retrainMu.Unlock()

	jobID, ok := e.queue.Enqueue(jobs.Job{Name: reindexJobName, Run: e.runReindex})
	if !ok {
		return fmt.Errorf("engine: retrain: reindex enqueue dropped")
	}
	e.log.Info("retrain complete, reindex scheduled",
		"pairs", len(pairs), "reindex_job_id", jobID)
	return nil
}

// runReindex re-embeds the whole corpus with the freshly reloaded model,
// replaces the cache and index wholesale, persists both and writes the new
// embeddings back to the record store in per-batch commits.
func (e *Engine) runReindex(ctx context.Context) error {
	if err := e.rebuild(ctx); err != nil {
		return fmt.Errorf("engine: reindex: %w", err)
	}

	e.mu.RLock()
	ids := make([]int64, len(e.cache.IDs))
	copy(ids, e.cache.IDs)
	vectors := make([][]float32, len(e.cache.Embeddings))
	copy(vectors, e.cache.Embeddings)
	e.mu.RUnlock()

	if err := e.store.UpdateEmbeddings(ctx, ids, vectors, store.EmbeddingWriteBatchSize); err != nil {
		return fmt.Errorf("engine: reindex: %w", err)
	}
	e.log.Info("reindex complete", "rows", len(ids))
	return nil
}

// buildTrainingPairs derives contrastive pairs from the corpus: every
// record contributes its (cleaned question, cleaned answer), and records
// sharing a raw answer additionally contribute all pairs of their distinct
// cleaned questions.
func buildTrainingPairs(records []store.Record) []embedder.TrainingPair {
	var pairs []embedder.TrainingPair
	byAnswer := make(map[string][]string)

	for _, r := range records {
		cq := textutil.Clean(r.Question)
		ca := textutil.Clean(r.Answer)
		if cq == "" || ca == "" {
			continue
		}
		pairs = append(pairs, embedder.TrainingPair{Anchor: cq, Positive: ca})

		qs := byAnswer[r.Answer]
		dup := false
		for _, prev := range qs {
			if prev == cq {
				dup = true
				break
			}
		}
		if !dup {
			byAnswer[r.Answer] = append(qs, cq)
		}
	}

	for _, qs := range byAnswer {
		for i := 0; i < len(qs); i++ {
			for j := i + 1; j < len(qs); j++ {
				pairs = append(pairs, embedder.TrainingPair{Anchor: qs[i], Positive: qs[j]})
			}
		}
	}
	return pairs
}

// probeResources is the default ResourceProbe, reading host CPU and memory
// utilization.
func probeResources(ctx context.Context) (float64, float64, error) {
	cpuPcts, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return 0, 0, fmt.Errorf("engine: cpu probe: %w", err)
	}
	if len(cpuPcts) == 0 {
		return 0, 0, errors.New("engine: cpu probe: no samples")
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("engine: memory probe: %w", err)
	}
	return cpuPcts[0], vm.UsedPercent, nil
}
