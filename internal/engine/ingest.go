package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanntrong/qaserve-go/internal/store"
	"github.com/vanntrong/qaserve-go/internal/textutil"
)

// MaxBatchSize bounds a single bulk ingestion request.
const MaxBatchSize = 10000

var (
	// ErrEmptyBatch is returned when a bulk request carries no rows.
	ErrEmptyBatch = errors.New("engine: batch contains no rows")
	// ErrBatchTooLarge is returned when a bulk request exceeds MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("engine: batch exceeds %d rows", MaxBatchSize)
	// ErrEmptyAfterClean is returned by SingleIngest when the question or
	// answer normalizes to nothing.
	ErrEmptyAfterClean = errors.New("engine: question or answer is empty after cleaning")
	// ErrAllRowsSkipped is returned when every row of a bulk request was
	// dropped as empty or duplicate.
	ErrAllRowsSkipped = errors.New("engine: all rows skipped")
)

// Pair is one question/answer row submitted for ingestion.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// IngestResult summarizes one bulk ingestion.
type IngestResult struct {
	Inserted         int  `json:"inserted"`
	SkippedEmpty     int  `json:"skipped_empty"`
	SkippedDuplicate int  `json:"skipped_duplicate"`
	RetrainTriggered bool `json:"retrain_triggered"`
}

// BulkIngest validates, deduplicates, embeds and stores a batch of pairs,
// then appends the survivors to the cache and index and persists both.
// Structural problems (empty or oversized batch) abort before any mutation;
// per-row problems skip the row and count it. The retrain trigger is
// evaluated exactly once per batch, after the mutation completes.
func (e *Engine) BulkIngest(ctx context.Context, pairs []Pair) (*IngestResult, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(pairs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	res := &IngestResult{}

	type row struct {
		question, answer           string
		cleanQuestion, cleanAnswer string
	}
	var rows []row
	seen := make(map[[2]string]struct{}, len(pairs))
	for _, p := range pairs {
		cq := textutil.Clean(p.Question)
		ca := textutil.Clean(p.Answer)
		if cq == "" || ca == "" {
			res.SkippedEmpty++
			e.log.Info("skipped empty pair after cleaning", "question", p.Question)
			continue
		}
		key := [2]string{p.Question, p.Answer}
		if _, dup := seen[key]; dup {
			res.SkippedDuplicate++
			continue
		}
		exists, err := e.store.FindExact(ctx, p.Question, p.Answer)
		if err != nil {
			return nil, fmt.Errorf("engine: ingest: %w", err)
		}
		if exists {
			res.SkippedDuplicate++
			e.log.Info("skipped duplicate pair", "question", p.Question)
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row{p.Question, p.Answer, cq, ca})
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w (empty=%d duplicate=%d)",
			ErrAllRowsSkipped, res.SkippedEmpty, res.SkippedDuplicate)
	}

	cleanQuestions := make([]string, len(rows))
	for i, r := range rows {
		cleanQuestions[i] = r.cleanQuestion
	}
	vectors, err := e.embedAll(ctx, cleanQuestions)
	if err != nil {
		return nil, fmt.Errorf("engine: ingest: %w", err)
	}

	recs := make([]store.NewRecord, len(rows))
	for i, r := range rows {
		recs[i] = store.NewRecord{Question: r.question, Answer: r.answer, Embedding: vectors[i]}
	}
	ids, err := e.store.InsertBatch(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("engine: ingest: %w", err)
	}

	questions := make([]string, len(rows))
	answers := make([]string, len(rows))
	cleanAnswers := make([]string, len(rows))
	for i, r := range rows {
		questions[i] = r.question
		answers[i] = r.answer
		cleanAnswers[i] = r.cleanAnswer
	}
	if err := e.appendAndPersist(ctx, ids, vectors, questions, answers, cleanQuestions, cleanAnswers); err != nil {
		return nil, err
	}
	res.Inserted = len(rows)

	triggered, err := e.TriggerRetrain(ctx, false)
	if err != nil {
		e.log.Warn("retrain trigger evaluation failed", "error", err)
	}
	res.RetrainTriggered = triggered

	e.log.Info("bulk ingest complete",
		"inserted", res.Inserted,
		"skipped_empty", res.SkippedEmpty,
		"skipped_duplicate", res.SkippedDuplicate,
		"retrain_triggered", res.RetrainTriggered)
	return res, nil
}

// SingleIngest stores one pair. Empty-after-clean is a validation error;
// an exact duplicate returns (false, nil). Unlike BulkIngest it does not
// evaluate the retrain trigger.
func (e *Engine) SingleIngest(ctx context.Context, question, answer string) (bool, error) {
	cq := textutil.Clean(question)
	ca := textutil.Clean(answer)
	if cq == "" || ca == "" {
		return false, ErrEmptyAfterClean
	}

	exists, err := e.store.FindExact(ctx, question, answer)
	if err != nil {
		return false, fmt.Errorf("engine: ingest: %w", err)
	}
	if exists {
		e.log.Info("skipped duplicate pair", "question", question)
		return false, nil
	}

	vectors, err := e.emb.Embed(ctx, []string{cq})
	if err != nil {
		return false, fmt.Errorf("engine: ingest: %w", err)
	}

	ids, err := e.store.InsertBatch(ctx, []store.NewRecord{
		{Question: question, Answer: answer, Embedding: vectors[0]},
	})
	if err != nil {
		return false, fmt.Errorf("engine: ingest: %w", err)
	}

	err = e.appendAndPersist(ctx, ids, vectors,
		[]string{question}, []string{answer}, []string{cq}, []string{ca})
	if err != nil {
		return false, err
	}
	return true, nil
}

// appendAndPersist applies one incremental cache+index append inside the
// exclusive critical section and persists both artifacts. An index failure
// rolls the in-memory cache append back before anything reaches disk.
func (e *Engine) appendAndPersist(ctx context.Context, ids []int64, vectors [][]float32, questions, answers, cleanQuestions, cleanAnswers []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.cache.Len()
	if err := e.cache.Append(ids, vectors, questions, answers, cleanQuestions, cleanAnswers); err != nil {
		return fmt.Errorf("engine: append: %w", err)
	}
	if err := e.index.Append(ctx, ids, vectors); err != nil {
		e.cache.TruncateTo(before)
		return fmt.Errorf("engine: append: %w", err)
	}

	return e.persistLocked(ctx)
}
