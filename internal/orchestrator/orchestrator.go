// Package orchestrator runs one trigger's workflow: search the
// marketplace, drop already-notified items, capture an artifact per
// surviving item, deliver fixed-size batches, and write the grown dedup
// ledger back after every successful batch.
package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/peedubyah/tradebot/internal/capture"
	"github.com/peedubyah/tradebot/internal/domain"
	"github.com/peedubyah/tradebot/internal/metrics"
	"github.com/peedubyah/tradebot/internal/notify"
)

const DefaultBatchSize = 10

type Searcher interface {
	Search(ctx context.Context, filter domain.SearchFilter) ([]domain.Listing, error)
}

type Capturer interface {
	Capture(ctx context.Context, itemID string) (*capture.Artifact, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, batch notify.Batch) error
}

// RunStore receives per-batch bookkeeping write-backs. Implementations
// must treat a write-back for a deleted job as a no-op.
type RunStore interface {
	UpdateRunState(ctx context.Context, id string, lastRun time.Time, sentItemIDs []string) error
}

// AnalyticsSink records per-job delivery counters. Optional, best-effort.
type AnalyticsSink interface {
	RecordRun(ctx context.Context, jobID string, delivered int)
}

// RunOutcome summarizes one completed run.
type RunOutcome struct {
	JobID         string
	Found         int
	New           int
	Captured      int
	Delivered     int
	FailedBatches int
}

type Config struct {
	BatchSize int
}

type Runner struct {
	config    Config
	searcher  Searcher
	capturer  Capturer
	deliverer Deliverer
	store     RunStore
	metrics   metrics.Sink
	analytics AnalyticsSink // optional, nil = disabled
	clock     func() time.Time
}

func New(config Config, searcher Searcher, capturer Capturer, deliverer Deliverer, store RunStore) *Runner {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Runner{
		config:    config,
		searcher:  searcher,
		capturer:  capturer,
		deliverer: deliverer,
		store:     store,
		metrics:   metrics.NewNoopSink(),
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Runner) WithMetrics(sink metrics.Sink) *Runner {
	r.metrics = sink
	return r
}

// WithAnalytics attaches an analytics sink.
func (r *Runner) WithAnalytics(sink AnalyticsSink) *Runner {
	r.analytics = sink
	return r
}

// Run executes the workflow for a registered job, writing bookkeeping
// back to the store after every delivered batch. A provider failure
// aborts the run with the ledger and last-run marker untouched, so the
// next trigger retries the same window.
func (r *Runner) Run(ctx context.Context, job domain.WatchJob) error {
	_, err := r.run(ctx, job.ID, job.Filter, job.SentItemIDs, true)
	return err
}

// RunAdHoc executes one workflow pass outside the registry: empty
// ledger, no write-back. Used by the run-now surface.
func (r *Runner) RunAdHoc(ctx context.Context, filter domain.SearchFilter) (RunOutcome, error) {
	return r.run(ctx, "ad-hoc", filter.WithDefaults(), nil, false)
}

func (r *Runner) run(ctx context.Context, jobID string, filter domain.SearchFilter, ledger []string, writeBack bool) (RunOutcome, error) {
	start := r.clock()
	r.metrics.RunsInFlightIncr()
	defer r.metrics.RunsInFlightDecr()

	outcome := RunOutcome{JobID: jobID}

	listings, err := r.searcher.Search(ctx, filter)
	if err != nil {
		r.metrics.RunCompleted(metrics.OutcomeProviderError, r.clock().Sub(start))
		return outcome, err
	}
	outcome.Found = len(listings)

	fresh := dropSeen(listings, ledger)
	outcome.New = len(fresh)
	r.metrics.SearchCompleted(outcome.Found, outcome.New)

	if len(fresh) == 0 {
		log.Printf("orchestrator: job %s: no new listings (found=%d)", jobID, outcome.Found)
		r.metrics.RunCompleted(metrics.OutcomeEmpty, r.clock().Sub(start))
		return outcome, nil
	}

	state := runState{
		jobID:     jobID,
		recipient: filter.Recipient,
		ledger:    ledger,
		writeBack: writeBack,
	}

	batch := make([]batchItem, 0, r.config.BatchSize)
	for _, listing := range fresh {
		artifact, err := r.capturer.Capture(ctx, listing.ID)
		if err != nil {
			// One failed capture never aborts the run; the item stays
			// out of the ledger and is retried on the next trigger.
			log.Printf("orchestrator: job %s: capture %s failed: %v", jobID, listing.ID, err)
			r.metrics.CaptureCompleted(false)
			continue
		}
		r.metrics.CaptureCompleted(true)
		outcome.Captured++

		batch = append(batch, batchItem{listing: listing, artifact: artifact})
		if len(batch) == r.config.BatchSize {
			r.flush(ctx, &state, batch, &outcome)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		r.flush(ctx, &state, batch, &outcome)
	}

	if r.analytics != nil && outcome.Delivered > 0 {
		r.analytics.RecordRun(ctx, jobID, outcome.Delivered)
	}

	log.Printf("orchestrator: job %s: found=%d new=%d captured=%d delivered=%d failed_batches=%d",
		jobID, outcome.Found, outcome.New, outcome.Captured, outcome.Delivered, outcome.FailedBatches)

	result := metrics.OutcomeSuccess
	if outcome.FailedBatches > 0 {
		result = metrics.OutcomePartial
	}
	r.metrics.RunCompleted(result, r.clock().Sub(start))

	return outcome, nil
}

type batchItem struct {
	listing  domain.Listing
	artifact *capture.Artifact
}

type runState struct {
	jobID     string
	recipient string
	ledger    []string
	writeBack bool
}

// flush delivers one batch and, on success, applies the bookkeeping
// write-back immediately, so a later failed batch cannot cause
// already-delivered items to be re-sent. Artifacts are released right
// after the delivery attempt, success or not.
func (r *Runner) flush(ctx context.Context, state *runState, batch []batchItem, outcome *RunOutcome) {
	items := make([]notify.Item, 0, len(batch))
	for _, bi := range batch {
		items = append(items, notify.Item{
			Listing:   bi.listing,
			ImagePath: bi.artifact.Path,
			ImageName: bi.artifact.Filename(),
		})
	}

	err := r.deliverer.Deliver(ctx, notify.Batch{Recipient: state.recipient, Items: items})

	for _, bi := range batch {
		bi.artifact.Release()
	}

	if err != nil {
		log.Printf("orchestrator: job %s: batch of %d failed: %v", state.jobID, len(batch), err)
		r.metrics.BatchDelivered(len(batch), false)
		outcome.FailedBatches++
		return
	}

	r.metrics.BatchDelivered(len(batch), true)
	outcome.Delivered += len(batch)

	for _, bi := range batch {
		state.ledger = append(state.ledger, bi.listing.ID)
	}

	if !state.writeBack {
		return
	}

	now := r.clock().UTC()
	if err := r.store.UpdateRunState(ctx, state.jobID, now, state.ledger); err != nil {
		// The batch was delivered; a failed write-back risks a re-send
		// next run, which the at-least-once contract allows.
		log.Printf("orchestrator: job %s: run state write-back failed: %v", state.jobID, err)
	}
}

// dropSeen filters out items already in the ledger, preserving order.
func dropSeen(listings []domain.Listing, ledger []string) []domain.Listing {
	if len(ledger) == 0 {
		return listings
	}
	seen := make(map[string]struct{}, len(ledger))
	for _, id := range ledger {
		seen[id] = struct{}{}
	}

	fresh := listings[:0:0]
	for _, l := range listings {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		fresh = append(fresh, l)
	}
	return fresh
}
