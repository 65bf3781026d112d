package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vanntrong/qaserve-go/internal/textutil"
)

// Search defaults.
const (
	DefaultK                 = 5
	DefaultDistanceThreshold = 1.0

	// overFetchFactor widens the neighbor fetch so answer-group dedup
	// still yields k distinct answers.
	overFetchFactor = 4
)

// ErrEmptyQuery is returned for blank search queries.
var ErrEmptyQuery = errors.New("engine: query cannot be empty")

// Sentinel result emitted when nothing survives the distance threshold.
const (
	sentinelQuestion = "Không tìm thấy câu trả lời phù hợp"
	sentinelAnswer   = "Vui lòng thử lại với câu hỏi khác hoặc kiểm tra dữ liệu."
)

// SearchHit is one ranked answer. Distance is nil on the sentinel result.
type SearchHit struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Distance *float64 `json:"distance"`
}

// Search answers a query with up to k distinct answers ordered by semantic
// distance. Neighbors beyond threshold, or whose record id is no longer in
// the cache, are dropped; survivors are grouped by cleaned answer and each
// group is represented by its minimum-distance member. No survivors yields
// a single sentinel hit. A zero threshold is legal and keeps only exact
// (distance 0) matches; a negative threshold selects the default.
func (e *Engine) Search(ctx context.Context, query string, k int, threshold float64) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultK
	}
	if threshold < 0 {
		threshold = DefaultDistanceThreshold
	}

	clean := textutil.Clean(query)
	vectors, err := e.emb.Embed(ctx, []string{clean})
	if err != nil {
		return nil, fmt.Errorf("engine: search: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	matches, err := e.index.Search(ctx, vectors[0], k*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("engine: search: %w", err)
	}

	type member struct {
		question string
		answer   string
		distance float64
	}
	type group struct {
		best        member
		minDistance float64
	}

	idToIdx := e.cache.IndexByID()
	groups := make(map[string]*group)
	var order []string
	for _, m := range matches {
		idx, ok := idToIdx[m.RecordID]
		if !ok || float64(m.Distance) > threshold {
			continue
		}
		mem := member{
			question: e.cache.Questions[idx],
			answer:   e.cache.Answers[idx],
			distance: float64(m.Distance),
		}
		key := e.cache.CleanAnswers[idx]
		g, seen := groups[key]
		if !seen {
			groups[key] = &group{best: mem, minDistance: mem.distance}
			order = append(order, key)
			continue
		}
		if mem.distance < g.minDistance {
			g.minDistance = mem.distance
			g.best = mem
		}
	}

	if len(groups) == 0 {
		e.log.Warn("no results within threshold",
			"query", clean, "threshold", threshold)
		return []SearchHit{{Question: sentinelQuestion, Answer: sentinelAnswer}}, nil
	}

	sort.SliceStable(order, func(i, j int) bool {
		return groups[order[i]].minDistance < groups[order[j]].minDistance
	})

	hits := make([]SearchHit, 0, min(k, len(order)))
	for _, key := range order {
		if len(hits) == k {
			break
		}
		g := groups[key]
		d := g.best.distance
		hits = append(hits, SearchHit{
			Question: g.best.question,
			Answer:   g.best.answer,
			Distance: &d,
		})
	}
	if len(hits) < k {
		e.log.Warn("fewer unique answers than requested",
			"query", clean, "found", len(hits), "requested", k)
	}
	return hits, nil
}
