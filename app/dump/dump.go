// Package dump mirrors the registry's periodic bulk export into the store.
// Each cycle resolves the freshest export, diffs its flat files against
// current state, commits the resulting operation log in bounded transactions
// and finally refreshes the cache.
package dump

import (
	"context"

	slogctx "github.com/veqryn/slog-context"

	"github.com/delve-search/delve/app/cache"
	"github.com/delve-search/delve/app/fulltext"
	"github.com/delve-search/delve/app/storage"
)

// Indexer is the ingestion-time surface of the full-text collaborator.
type Indexer interface {
	IndexCrates(docs []fulltext.Doc) error
}

// Bound of the importer -> committer channel. Parsing blocks once this many
// ops are pending, so the importer cannot outrun the store.
const opQueueSize = 100_000

// Pipeline wires one import cycle together. It is driven by a scheduler that
// guarantees cycles never overlap.
type Pipeline struct {
	store    storage.Store
	cache    *cache.Cache
	fullText Indexer // nil when the full-text index is disabled
	resolver *Resolver

	reimportWindowDays int

	// Overridable for tests; zero values fall back to the defaults.
	queueSize int
	batchSize int
}

func NewPipeline(store storage.Store, c *cache.Cache, fullText Indexer, resolver *Resolver, reimportWindowDays int) *Pipeline {
	return &Pipeline{
		store:              store,
		cache:              c,
		fullText:           fullText,
		resolver:           resolver,
		reimportWindowDays: reimportWindowDays,
	}
}

// RunCycle performs one full import cycle. An error anywhere aborts the
// cycle; batches already committed stand, and the next scheduled cycle
// retries from the persisted state.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	dir, ok, err := p.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if !ok {
		slogctx.Info(ctx, "No new dumps are available")
		return nil
	}
	slogctx.Info(ctx, "Importing dump", "dir", dir)

	// Parsing/diffing runs on its own goroutine so CPU-bound diff work and
	// I/O-bound transaction commits proceed concurrently.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queueSize := p.queueSize
	if queueSize <= 0 {
		queueSize = opQueueSize
	}

	importer := NewImporter(p.store, dir, p.reimportWindowDays)
	ops := make(chan storage.Op, queueSize)
	importDone := make(chan error, 1)
	go func() {
		importDone <- importer.Run(ctx, ops)
		close(ops)
	}()

	committer := NewCommitter(p.store)
	committer.BatchSize = p.batchSize
	stats, commitErr := committer.Drain(ctx, ops)
	if commitErr != nil {
		// Unblock the importer if it's waiting on a full channel.
		cancel()
	}
	importErr := <-importDone
	if commitErr != nil {
		// A commit failure cancels the importer, so its context error is a
		// consequence, not the cause.
		return commitErr
	}
	if importErr != nil {
		return importErr
	}

	// Clean up the store once per cycle if anything changed.
	if stats.Applied > 0 && stats.Uncompacted > 0 {
		slogctx.Info(ctx, "Compacting")
		if err := p.store.Compact(); err != nil {
			return err
		}
	}

	if p.fullText != nil && len(importer.ChangedCrates()) > 0 {
		slogctx.Info(ctx, "Indexing changed crates", "count", len(importer.ChangedCrates()))
		if err := p.fullText.IndexCrates(importer.ChangedCrates()); err != nil {
			return err
		}
	}

	slogctx.Info(ctx, "Done importing", "operations", stats.Applied)
	return p.cache.Refresh()
}
