package dump

import (
	"context"

	slogctx "github.com/veqryn/slog-context"

	"github.com/delve-search/delve/app/storage"
)

const (
	// One transaction per this many operations; a crash loses at most one
	// uncommitted batch.
	defaultBatchSize = 100_000
	// Compact the store after this many applied operations to keep disk
	// space down during large imports.
	defaultCompactEvery = 2_000_000
)

// Committer drains the importer's operation stream into bounded transactions.
// The channel between the importer and the committer is the backpressure
// mechanism: parsing blocks once it fills, committing blocks when it drains.
type Committer struct {
	store storage.Store

	// Overridable for tests; zero values fall back to the defaults.
	BatchSize    int
	CompactEvery int
}

func NewCommitter(store storage.Store) *Committer {
	return &Committer{store: store}
}

// drainStats reports what one cycle applied.
type drainStats struct {
	// Total operations committed.
	Applied int
	// Operations committed since the last mid-cycle compaction.
	Uncompacted int
}

// Drain consumes ops until the channel closes, committing every full batch
// and the final partial one. Everything committed before an error stands;
// the caller decides whether the cycle as a whole succeeded once the
// importer has joined.
func (c *Committer) Drain(ctx context.Context, ops <-chan storage.Op) (drainStats, error) {
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	compactEvery := c.CompactEvery
	if compactEvery <= 0 {
		compactEvery = defaultCompactEvery
	}

	stats := drainStats{}
	batch := make([]storage.Op, 0, batchSize)

	commit := func() error {
		slogctx.Info(ctx, "Committing changes", "from", stats.Applied, "to", stats.Applied+len(batch))
		if err := c.store.Apply(batch); err != nil {
			return err
		}
		stats.Applied += len(batch)
		stats.Uncompacted += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case op, ok := <-ops:
			if !ok {
				if len(batch) > 0 {
					if err := commit(); err != nil {
						return stats, err
					}
				}
				return stats, nil
			}
			batch = append(batch, op)
			if len(batch) >= batchSize {
				if err := commit(); err != nil {
					return stats, err
				}
			}
			if stats.Uncompacted > compactEvery {
				if err := c.store.Compact(); err != nil {
					return stats, err
				}
				stats.Uncompacted = 0
			}
		}
	}
}
