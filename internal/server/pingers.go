package server

import (
	"context"
	"fmt"

	"github.com/vanntrong/qaserve-go/internal/store"
)

// StorePinger probes the record store with a row count query. It satisfies
// the Pinger interface and is used by GET /api/ready. The ModelServer
// embedder client ships its own Ping/Name and is registered directly.
type StorePinger struct {
	// store is the record store to probe.
	store store.RecordStore
}

// NewStorePinger constructs a StorePinger for the given record store.
func NewStorePinger(s store.RecordStore) *StorePinger {
	return &StorePinger{store: s}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "store" }

// Ping runs a trivial count query against the store.
func (p *StorePinger) Ping(ctx context.Context) error {
	if _, err := p.store.Count(ctx); err != nil {
		return fmt.Errorf("count query failed: %w", err)
	}
	return nil
}
