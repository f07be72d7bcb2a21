package dump

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/delve-search/delve/app/storage"
)

// commitRecorder captures Apply/Compact calls; the committer touches nothing
// else on the store.
type commitRecorder struct {
	storage.Store
	batches  [][]storage.Op
	compacts int
	failOn   int // 1-based batch index that fails, 0 disables
}

func (r *commitRecorder) Apply(ops []storage.Op) error {
	r.batches = append(r.batches, slices.Clone(ops))
	if r.failOn != 0 && len(r.batches) == r.failOn {
		return errors.New("apply failed")
	}
	return nil
}

func (r *commitRecorder) Compact() error {
	r.compacts++
	return nil
}

func sendOps(n int) chan storage.Op {
	ops := make(chan storage.Op, n)
	for i := 0; i < n; i++ {
		ops <- storage.PutKeyword{Keyword: storage.Keyword{ID: int64(i)}}
	}
	close(ops)
	return ops
}

func TestDrainCommitsInBatches(t *testing.T) {
	store := &commitRecorder{}
	committer := NewCommitter(store)
	committer.BatchSize = 3

	stats, err := committer.Drain(context.Background(), sendOps(7))
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if stats.Applied != 7 {
		t.Errorf("expected 7 applied ops, got %d", stats.Applied)
	}
	var sizes []int
	for _, batch := range store.batches {
		sizes = append(sizes, len(batch))
	}
	if !slices.Equal(sizes, []int{3, 3, 1}) {
		t.Errorf("unexpected batch sizes %v", sizes)
	}
}

func TestDrainCompactsDuringLargeImports(t *testing.T) {
	store := &commitRecorder{}
	committer := NewCommitter(store)
	committer.BatchSize = 2
	committer.CompactEvery = 3

	stats, err := committer.Drain(context.Background(), sendOps(8))
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	// The threshold is crossed after the second and fourth batch commits, and
	// each compaction resets the counter.
	if store.compacts != 2 {
		t.Errorf("expected 2 mid-drain compactions, got %d", store.compacts)
	}
	if stats.Applied != 8 {
		t.Errorf("expected 8 applied ops, got %d", stats.Applied)
	}
	if stats.Uncompacted != 0 {
		t.Errorf("expected 0 uncompacted ops, got %d", stats.Uncompacted)
	}
}

func TestDrainStopsOnApplyError(t *testing.T) {
	store := &commitRecorder{failOn: 1}
	committer := NewCommitter(store)
	committer.BatchSize = 2

	stats, err := committer.Drain(context.Background(), sendOps(4))
	if err == nil {
		t.Fatal("expected an error from the failing commit")
	}
	if stats.Applied != 0 {
		t.Errorf("expected no applied ops, got %d", stats.Applied)
	}
	if len(store.batches) != 1 {
		t.Errorf("expected drain to stop after the failing batch, got %d batches", len(store.batches))
	}
}

func TestDrainHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	committer := NewCommitter(&commitRecorder{})
	_, err := committer.Drain(ctx, make(chan storage.Op))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
