package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/store"
)

// Batch is the handle for one background STT or TTS run over a chapter
type Batch struct {
	ID        string
	Kind      store.JobKind
	ChapterID int64
	Queued    int
	Skipped   int // verses excluded by the selection filter
	StartedAt time.Time

	done     chan struct{}
	resolved atomic.Int64

	mu        sync.Mutex
	completed int
	failed    int
	errs      map[int64]error
}

// BatchResult summarizes a finished batch
type BatchResult struct {
	Completed int
	Failed    int
	Pending   int // unresolved because the orchestrator shut down
	Errors    map[int64]error
}

func newBatch(id string, kind store.JobKind, chapterID int64, queued, skipped int, now time.Time) *Batch {
	return &Batch{
		ID:        id,
		Kind:      kind,
		ChapterID: chapterID,
		Queued:    queued,
		Skipped:   skipped,
		StartedAt: now,
		done:      make(chan struct{}),
		errs:      make(map[int64]error),
	}
}

// emptyBatch is returned when nothing was eligible; it is already done
func emptyBatch(kind store.JobKind, chapterID int64, skipped int, now time.Time) *Batch {
	b := newBatch("", kind, chapterID, 0, skipped, now)
	close(b.done)
	return b
}

// Done is closed when every queued verse has resolved or the run stopped
func (b *Batch) Done() <-chan struct{} { return b.done }

// Progress reports resolved verses out of the queued total
func (b *Batch) Progress() (resolved, total int) {
	return int(b.resolved.Load()), b.Queued
}

func (b *Batch) succeed() {
	b.mu.Lock()
	b.completed++
	b.mu.Unlock()
	b.resolved.Add(1)
}

func (b *Batch) fail(verseID int64, err error) {
	b.mu.Lock()
	b.failed++
	b.errs[verseID] = err
	b.mu.Unlock()
	b.resolved.Add(1)
}

func (b *Batch) finish() { close(b.done) }

// Result returns the current counts
func (b *Batch) Result() *BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	errs := make(map[int64]error, len(b.errs))
	for k, v := range b.errs {
		errs[k] = v
	}
	return &BatchResult{
		Completed: b.completed,
		Failed:    b.failed,
		Pending:   b.Queued - b.completed - b.failed,
		Errors:    errs,
	}
}

// Wait blocks until the batch is done or ctx ends
func (b *Batch) Wait(ctx context.Context) (*BatchResult, error) {
	select {
	case <-b.done:
		return b.Result(), nil
	case <-ctx.Done():
		return b.Result(), ctx.Err()
	}
}
