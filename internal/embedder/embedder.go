// Package embedder defines the embedding model capability consumed by the
// engine: batch text encoding for serving, plus the fit/reload surface the
// retrain worker uses to re-specialize the model. The numeric internals live
// in an external model server; this package only speaks its HTTP API.
package embedder

import (
	"context"
	"math"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice and every row is
	// L2-normalized.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TrainingPair is one positive pair for contrastive fine-tuning.
type TrainingPair struct {
	// Anchor is the first text of the pair (a cleaned question).
	Anchor string `json:"anchor"`
	// Positive is the text that should embed close to Anchor
	// (a cleaned answer, or a sibling question sharing the same answer).
	Positive string `json:"positive"`
}

// Trainer is the re-specialization surface used by the retrain worker.
type Trainer interface {
	// Fit trains on the given pairs into a scratch checkpoint and
	// atomically replaces the prior checkpoint on success.
	Fit(ctx context.Context, pairs []TrainingPair) error
	// Reload swaps the serving weights to the current checkpoint.
	Reload(ctx context.Context) error
}

// Normalize L2-normalizes each row of m in place and returns m.
// Zero rows are left untouched.
func Normalize(m [][]float32) [][]float32 {
	for _, row := range m {
		var sum float64
		for _, x := range row {
			sum += float64(x) * float64(x)
		}
		if sum == 0 {
			continue
		}
		inv := float32(1 / math.Sqrt(sum))
		for i := range row {
			row[i] *= inv
		}
	}
	return m
}
