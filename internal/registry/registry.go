// Package registry manages the live set of recurring watch jobs: one
// cron trigger per job, mirrored synchronously to the durable store so
// jobs survive restarts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/peedubyah/tradebot/internal/cron"
	"github.com/peedubyah/tradebot/internal/domain"
)

// Store is the durable mirror of the registry. Every registry mutation
// is applied to the store before the live trigger changes.
type Store interface {
	CreateJob(ctx context.Context, job domain.WatchJob) error
	DeleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (domain.WatchJob, error)
	ListJobs(ctx context.Context) ([]domain.WatchJob, error)
	UpdateDefinition(ctx context.Context, id, schedule string, filter domain.SearchFilter) error
}

// Runner executes one trigger's workflow. Workflow failures are the
// runner's to report; the registry only logs the returned error.
type Runner interface {
	Run(ctx context.Context, job domain.WatchJob) error
}

// JobStatus is one row of a ListJobs snapshot.
type JobStatus struct {
	ID           string
	Schedule     string
	NextFireTime time.Time
}

type entry struct {
	cronID   robfig.EntryID
	schedule string
	sched    cron.Schedule

	// running guards against overlapping runs of the same job. A due
	// trigger for a still-running job is dropped, never queued.
	running atomic.Bool
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	cron    *robfig.Cron
	parser  *cron.Parser
	store   Store
	runner  Runner
	clock   func() time.Time
	addFunc func(spec string, cmd func()) (robfig.EntryID, error)
}

func New(store Store, runner Runner) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		cron:    robfig.New(),
		parser:  cron.NewParser(),
		store:   store,
		runner:  runner,
		clock:   time.Now,
	}
	r.addFunc = r.cron.AddFunc
	return r
}

// Start begins firing triggers.
func (r *Registry) Start() {
	r.cron.Start()
	log.Println("registry: started")
}

// Stop stops firing and waits for in-flight runs to complete, or for
// ctx to expire.
func (r *Registry) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		log.Println("registry: stopped")
	case <-ctx.Done():
		log.Println("registry: stop timed out with runs in flight")
	}
}

// AddJob validates the schedule, persists the definition, and starts a
// live trigger bound to the runner. Interval tags are resolved to cron
// expressions here; only the resolved form is registered and persisted.
func (r *Registry) AddJob(ctx context.Context, id, schedule string, filter domain.SearchFilter) error {
	resolved := cron.ResolveInterval(schedule)
	sched, err := r.parser.Parse(resolved)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return domain.ErrDuplicateJobID
	}

	now := r.clock().UTC()
	job := domain.WatchJob{
		ID:        id,
		Schedule:  resolved,
		Filter:    filter.WithDefaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("persist job %s: %w", id, err)
	}

	if err := r.register(id, resolved, sched); err != nil {
		// Roll the store back so a failed registration leaves nothing behind.
		if delErr := r.store.DeleteJob(ctx, id); delErr != nil {
			log.Printf("registry: rollback of job %s failed: %v", id, delErr)
		}
		return err
	}

	log.Printf("registry: job %s added (schedule %q)", id, resolved)
	return nil
}

// RemoveJob stops the trigger and deletes the durable record. Safe
// while a run for the job is in flight: the run completes and its
// write-back lands on a missing row, which the store treats as a no-op.
func (r *Registry) RemoveJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.ErrJobNotFound
	}

	r.cron.Remove(e.cronID)
	delete(r.entries, id)

	if err := r.store.DeleteJob(ctx, id); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return fmt.Errorf("delete job %s: %w", id, err)
	}

	log.Printf("registry: job %s removed", id)
	return nil
}

// UpdateJob replaces a job's schedule and filter, preserving its dedup
// ledger and last-run marker. Atomic remove-then-add under the registry
// lock: the job is never observable in a half-updated state.
func (r *Registry) UpdateJob(ctx context.Context, id, newSchedule string, filter domain.SearchFilter) error {
	resolved := cron.ResolveInterval(newSchedule)
	sched, err := r.parser.Parse(resolved)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.ErrJobNotFound
	}

	if err := r.store.UpdateDefinition(ctx, id, resolved, filter.WithDefaults()); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}

	r.cron.Remove(e.cronID)
	cronID, err := r.addFunc(resolved, r.fireFunc(id))
	if err != nil {
		// Keep the previous trigger live rather than leaving a
		// registered job that never fires.
		prevID, prevErr := r.addFunc(e.schedule, r.fireFunc(id))
		if prevErr != nil {
			delete(r.entries, id)
			log.Printf("registry: job %s lost its trigger: %v", id, prevErr)
		} else {
			e.cronID = prevID
		}
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}

	e.cronID = cronID
	e.schedule = resolved
	e.sched = sched

	log.Printf("registry: job %s updated (schedule %q)", id, resolved)
	return nil
}

// ListJobs returns a snapshot of active jobs and their next fire times,
// sorted by id. Listing never mutates trigger state.
func (r *Registry) ListJobs() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	statuses := make([]JobStatus, 0, len(r.entries))
	for id, e := range r.entries {
		statuses = append(statuses, JobStatus{
			ID:           id,
			Schedule:     e.schedule,
			NextFireTime: e.sched.Next(now),
		})
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Load re-establishes triggers for every persisted job. A record whose
// schedule no longer parses is skipped and logged, never fatal; only a
// store failure aborts the load.
func (r *Registry) Load(ctx context.Context) (int, error) {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load jobs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, job := range jobs {
		sched, err := r.parser.Parse(job.Schedule)
		if err != nil {
			log.Printf("registry: skipping job %s: %v", job.ID, err)
			continue
		}
		if _, exists := r.entries[job.ID]; exists {
			continue
		}
		if err := r.register(job.ID, job.Schedule, sched); err != nil {
			log.Printf("registry: skipping job %s: %v", job.ID, err)
			continue
		}
		loaded++
	}

	log.Printf("registry: loaded %d job(s)", loaded)
	return loaded, nil
}

// Reconcile aligns the live trigger set with the store. Jobs persisted
// by another replica gain triggers, jobs deleted elsewhere lose theirs,
// and a schedule changed elsewhere is re-registered. A record whose
// schedule no longer parses is skipped and logged, same as Load.
func (r *Registry) Reconcile(ctx context.Context) (added, removed int, err error) {
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("reconcile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	persisted := make(map[string]domain.WatchJob, len(jobs))
	for _, job := range jobs {
		persisted[job.ID] = job
	}

	for id, e := range r.entries {
		job, ok := persisted[id]
		if !ok {
			r.cron.Remove(e.cronID)
			delete(r.entries, id)
			removed++
			log.Printf("registry: job %s deleted elsewhere, trigger dropped", id)
			continue
		}
		if job.Schedule == e.schedule {
			continue
		}
		sched, err := r.parser.Parse(job.Schedule)
		if err != nil {
			log.Printf("registry: skipping reschedule of job %s: %v", id, err)
			continue
		}
		r.cron.Remove(e.cronID)
		delete(r.entries, id)
		if err := r.register(id, job.Schedule, sched); err != nil {
			log.Printf("registry: skipping reschedule of job %s: %v", id, err)
			continue
		}
		log.Printf("registry: job %s rescheduled elsewhere (schedule %q)", id, job.Schedule)
	}

	for id, job := range persisted {
		if _, exists := r.entries[id]; exists {
			continue
		}
		sched, err := r.parser.Parse(job.Schedule)
		if err != nil {
			log.Printf("registry: skipping job %s: %v", id, err)
			continue
		}
		if err := r.register(id, job.Schedule, sched); err != nil {
			log.Printf("registry: skipping job %s: %v", id, err)
			continue
		}
		added++
	}

	if added > 0 || removed > 0 {
		log.Printf("registry: reconciled with store (%d added, %d removed)", added, removed)
	}
	return added, removed, nil
}

// register adds the live trigger and bookkeeping entry. Caller holds r.mu.
func (r *Registry) register(id, schedule string, sched cron.Schedule) error {
	cronID, err := r.addFunc(schedule, r.fireFunc(id))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", domain.ErrInvalidSchedule, schedule, err)
	}
	r.entries[id] = &entry{cronID: cronID, schedule: schedule, sched: sched}
	return nil
}

func (r *Registry) fireFunc(id string) func() {
	return func() { r.fire(id) }
}

// fire runs one trigger. The job definition is re-read from the store
// at fire time so the run always sees the persisted ledger.
func (r *Registry) fire(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	if !e.running.CompareAndSwap(false, true) {
		log.Printf("registry: job %s still running, dropping trigger", id)
		return
	}
	defer e.running.Store(false)

	ctx := context.Background()

	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return
		}
		log.Printf("registry: job %s: read before run failed: %v", id, err)
		return
	}

	if err := r.runner.Run(ctx, job); err != nil {
		log.Printf("registry: job %s: run failed: %v", id, err)
	}
}
