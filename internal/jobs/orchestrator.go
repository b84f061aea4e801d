// Package jobs runs transcription and synthesis batches against the remote
// speech service and persists each verse's outcome as it resolves.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/Bridgeconn/obt-workflow/internal/aiclient"
	"github.com/Bridgeconn/obt-workflow/internal/audio"
	"github.com/Bridgeconn/obt-workflow/internal/language"
	"github.com/Bridgeconn/obt-workflow/internal/report"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/workspace"
)

const (
	// DefaultPollInterval is the wait between status rounds
	DefaultPollInterval = 5 * time.Second

	// DefaultSubmitConcurrency bounds parallel submissions within a batch
	DefaultSubmitConcurrency = 4
)

// Service is the remote speech service
type Service interface {
	EnsureServed(ctx context.Context, model string) error
	SubmitTranscription(ctx context.Context, model language.Model, audioPath string) (string, error)
	SubmitSynthesis(ctx context.Context, model language.Model, texts []string, format string) (string, error)
	JobStatus(ctx context.Context, id string) (*aiclient.JobResult, error)
	DownloadAsset(ctx context.Context, id, dest string) (int64, error)
}

// PostProcessor normalizes synthesized audio in place
type PostProcessor interface {
	Normalize(ctx context.Context, path string) (bool, error)
}

// Config holds orchestrator configuration
type Config struct {
	Store             *store.Store
	Service           Service
	Catalog           *language.Catalog
	Layout            workspace.Layout
	Audio             PostProcessor // nil uses audio.NewProcessor
	Clock             Clock         // nil uses the wall clock
	PollInterval      time.Duration
	SubmitConcurrency int
	Logger            *report.EventLogger
}

// Orchestrator dispatches batches in the background. Batches share the
// store and are not coordinated with each other; a verse touched by two
// batches is detected through its version and the later write is dropped.
type Orchestrator struct {
	store             *store.Store
	service           Service
	catalog           *language.Catalog
	layout            workspace.Layout
	audio             PostProcessor
	clock             Clock
	pollInterval      time.Duration
	submitConcurrency int
	logger            *report.EventLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu      sync.Mutex
	batches map[string]*Batch
}

// New creates an orchestrator
func New(cfg *Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SubmitConcurrency <= 0 {
		cfg.SubmitConcurrency = DefaultSubmitConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Audio == nil {
		cfg.Audio = audio.NewProcessor(cfg.Logger)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = language.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:             cfg.Store,
		service:           cfg.Service,
		catalog:           cfg.Catalog,
		layout:            cfg.Layout,
		audio:             cfg.Audio,
		clock:             cfg.Clock,
		pollInterval:      cfg.PollInterval,
		submitConcurrency: cfg.SubmitConcurrency,
		logger:            cfg.Logger,
		ctx:               ctx,
		cancel:            cancel,
		batches:           make(map[string]*Batch),
	}
}

// Batch looks up a batch by id
func (o *Orchestrator) Batch(id string) *Batch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.batches[id]
}

// Batches returns every batch started by this orchestrator, oldest first
func (o *Orchestrator) Batches() []*Batch {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := make([]*Batch, 0, len(o.batches))
	for _, b := range o.batches {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// Wait blocks until every dispatched batch has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops polling and waits for background work to exit. Jobs still
// waiting on the service stay in_progress.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// verseJob tracks one verse through submission and polling
type verseJob struct {
	verse     *store.Verse
	job       *store.Job
	submitted time.Time
}

// run describes the kind-specific parts of a batch
type run struct {
	batch     *Batch
	verses    []*store.Verse
	preflight string // external id already obtained for verses[0]
	submit    func(ctx context.Context, v *store.Verse) (string, error)
	complete  func(ctx context.Context, vj *verseJob, res *aiclient.JobResult) (string, error)
	failVerse func(v *store.Verse, msg string) error
}

// dispatch registers the batch and starts it in the background
func (o *Orchestrator) dispatch(r *run) *Batch {
	o.mu.Lock()
	o.batches[r.batch.ID] = r.batch
	o.mu.Unlock()

	util.InfoLog("Batch %s: %s queued for %d verses (%d skipped)",
		shortID(r.batch.ID), r.batch.Kind, r.batch.Queued, r.batch.Skipped)
	o.wg.Go(func() { o.execute(r) })
	return r.batch
}

func (o *Orchestrator) newBatch(kind store.JobKind, chapterID int64, queued, skipped int) *Batch {
	return newBatch(uuid.NewString(), kind, chapterID, queued, skipped, o.clock.Now())
}

func (o *Orchestrator) execute(r *run) {
	defer r.batch.finish()

	active := o.submitAll(r)
	o.poll(r, active)

	res := r.batch.Result()
	if res.Pending > 0 {
		util.WarnLog("Batch %s stopped with %d verses unresolved", shortID(r.batch.ID), res.Pending)
		return
	}
	util.SuccessLog("Batch %s: %s done, %d completed, %d failed",
		shortID(r.batch.ID), r.batch.Kind, res.Completed, res.Failed)
}

// submitAll creates one job row per verse and submits it. Verses whose
// submission fails are resolved as failed immediately.
func (o *Orchestrator) submitAll(r *run) []*verseJob {
	ctx := o.ctx
	var mu sync.Mutex
	var active []*verseJob

	p := pool.New().WithMaxGoroutines(o.submitConcurrency)
	for i, v := range r.verses {
		i, v := i, v
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			vj := &verseJob{verse: v, submitted: o.clock.Now()}
			job := &store.Job{VerseID: v.ID, Kind: r.batch.Kind}
			if err := o.store.CreateJob(job); err != nil {
				o.resolveFailed(r, vj, err)
				return
			}
			vj.job = job

			var id string
			var err error
			if i == 0 && r.preflight != "" {
				id = r.preflight
			} else {
				id, err = r.submit(ctx, v)
			}
			if err != nil && ctx.Err() != nil {
				return
			}
			o.logger.LogSubmit(r.batch.ID, v.ID, id, err)
			if err != nil {
				o.resolveFailed(r, vj, fmt.Errorf("submission failed: %w", err))
				return
			}

			if err := o.store.UpdateJob(job, store.JobInProgress, id, ""); err != nil {
				o.resolveFailed(r, vj, err)
				return
			}
			mu.Lock()
			active = append(active, vj)
			mu.Unlock()
		})
	}
	p.Wait()

	sort.Slice(active, func(i, j int) bool { return active[i].verse.Number < active[j].verse.Number })
	return active
}

// poll checks every active job each round until all resolve or the
// orchestrator closes
func (o *Orchestrator) poll(r *run, active []*verseJob) {
	ctx := o.ctx
	for len(active) > 0 {
		var pending []*verseJob
		for _, vj := range active {
			if ctx.Err() != nil {
				return
			}
			res, err := o.service.JobStatus(ctx, vj.job.ExternalID)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				o.resolveFailed(r, vj, fmt.Errorf("status check failed: %w", err))
			case res.Finished():
				msg, err := r.complete(ctx, vj, res)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					o.resolveFailed(r, vj, err)
					continue
				}
				o.resolveCompleted(r, vj, msg)
			case res.Failed():
				o.resolveFailed(r, vj, fmt.Errorf("%w: job %s ended with status %q",
					util.ErrExternalService, vj.job.ExternalID, res.Status))
			default:
				pending = append(pending, vj)
			}
		}

		o.logger.LogPoll(r.batch.ID, len(pending), len(active)-len(pending))
		active = pending
		if len(active) == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-o.clock.After(o.pollInterval):
		}
	}
}

func (o *Orchestrator) resolveCompleted(r *run, vj *verseJob, msg string) {
	if err := o.store.UpdateJob(vj.job, store.JobCompleted, "", msg); err != nil {
		util.ErrorLog("Failed to record job %d: %v", vj.job.ID, err)
	}
	o.logger.LogResolved(r.batch.ID, vj.verse.ID, vj.job.ExternalID, o.clock.Now().Sub(vj.submitted), nil)
	util.DebugLog("Verse %d (%s): %s", vj.verse.ID, vj.verse.Name, msg)
	r.batch.succeed()
}

// resolveFailed records err on the verse and the job. A stale verse keeps
// whatever a newer writer stored.
func (o *Orchestrator) resolveFailed(r *run, vj *verseJob, err error) {
	msg := err.Error()
	if ferr := r.failVerse(vj.verse, msg); ferr != nil {
		util.WarnLog("Verse %d: could not record failure: %v", vj.verse.ID, ferr)
	}
	externalID := ""
	if vj.job != nil {
		externalID = vj.job.ExternalID
		if uerr := o.store.UpdateJob(vj.job, store.JobFailed, "", msg); uerr != nil {
			util.ErrorLog("Failed to record job %d: %v", vj.job.ID, uerr)
		}
	}
	o.logger.LogResolved(r.batch.ID, vj.verse.ID, externalID, o.clock.Now().Sub(vj.submitted), err)
	util.WarnLog("Verse %d (%s): %v", vj.verse.ID, vj.verse.Name, err)
	r.batch.fail(vj.verse.ID, err)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
