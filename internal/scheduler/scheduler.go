// Package scheduler runs warden's periodic maintenance jobs. Every task runs
// behind the same guard rails: per-job overlap skipping, panic recovery and
// error swallowing, so one misbehaving job can never take down the daemon or
// its siblings.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"warden/internal/errdefs"
	"warden/internal/events"
	"warden/internal/metrics"
)

// Task is one unit of periodic work. Errors are logged and swallowed by the
// scheduler; a task that must escalate has to do so through its own channel.
type Task func(ctx context.Context) error

// Trigger describes when a job fires: a fixed interval or a standard
// five-field cron expression. Exactly one of the two must be set.
type Trigger struct {
	Every time.Duration `json:"every,omitempty"`
	Cron  string        `json:"cron,omitempty"`
}

func (t Trigger) schedule() (cron.Schedule, error) {
	switch {
	case t.Every > 0 && t.Cron != "":
		return nil, errdefs.InvalidArgumentf("trigger sets both interval and cron")
	case t.Cron != "":
		sched, err := cron.ParseStandard(t.Cron)
		if err != nil {
			return nil, errdefs.InvalidArgumentf("cron %q: %v", t.Cron, err)
		}
		return sched, nil
	case t.Every > 0:
		return cron.Every(t.Every), nil
	default:
		return nil, errdefs.InvalidArgumentf("trigger sets neither interval nor cron")
	}
}

// String renders the trigger for job listings.
func (t Trigger) String() string {
	if t.Cron != "" {
		return "cron " + t.Cron
	}
	return "every " + t.Every.String()
}

// ParseTrigger turns a config value into a Trigger. A value that parses as a
// positive Go duration is an interval; anything else must be a cron spec.
func ParseTrigger(s string) (Trigger, error) {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return Trigger{Every: d}, nil
	}
	if _, err := cron.ParseStandard(s); err != nil {
		return Trigger{}, errdefs.InvalidArgumentf("trigger %q: neither a duration nor a cron spec", s)
	}
	return Trigger{Cron: s}, nil
}

// JobSpec registers a job.
type JobSpec struct {
	ID         string
	Trigger    Trigger
	Task       Task
	RunAtStart bool
}

// JobStatus is the listing view of a scheduled job.
type JobStatus struct {
	ID      string    `json:"id"`
	Trigger string    `json:"trigger"`
	NextRun time.Time `json:"next_run"`
}

type job struct {
	id      string
	trigger Trigger
	sched   cron.Schedule
	task    Task
	entry   cron.EntryID
	running sync.Mutex // held for the duration of one run
}

// Scheduler owns the cron engine and the job registry.
type Scheduler struct {
	cron   *cron.Cron
	events events.Publisher

	mu      sync.Mutex
	jobs    map[string]*job
	taskCtx context.Context
}

// New creates a stopped scheduler. pub may be nil.
func New(pub events.Publisher) *Scheduler {
	if pub == nil {
		pub = events.Noop()
	}
	return &Scheduler{
		cron:    cron.New(),
		events:  pub,
		jobs:    make(map[string]*job),
		taskCtx: context.Background(),
	}
}

// Start begins firing triggers. ctx is handed to every task invocation; a
// canceled ctx tells long tasks to wind down during shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if ctx != nil {
		s.taskCtx = ctx
	}
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops firing triggers and returns a context that is done once the
// in-flight runs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Add schedules a new job. The id must be unique; re-registering an id is a
// conflict and leaves the existing job untouched.
func (s *Scheduler) Add(spec JobSpec) error {
	if spec.ID == "" {
		return errdefs.InvalidArgumentf("job id is empty")
	}
	if spec.Task == nil {
		return errdefs.InvalidArgumentf("job %q has no task", spec.ID)
	}
	sched, err := spec.Trigger.schedule()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.jobs[spec.ID]; exists {
		s.mu.Unlock()
		return errdefs.Conflictf("job %q already scheduled", spec.ID)
	}
	j := &job{id: spec.ID, trigger: spec.Trigger, sched: sched, task: spec.Task}
	j.entry = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(j) }))
	s.jobs[spec.ID] = j
	s.mu.Unlock()

	log.Info().Str("job", spec.ID).Stringer("trigger", spec.Trigger).Msg("job scheduled")
	if spec.RunAtStart {
		go s.run(j)
	}
	return nil
}

// Remove unschedules a job. In-flight runs complete, future triggers stop.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return errdefs.NotFoundf("job %q", id)
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, id)
	log.Info().Str("job", id).Msg("job removed")
	return nil
}

// RunNow triggers one run of a job out of schedule. The run still goes
// through the standard wrapper, so it is skipped if the job is mid-run.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return errdefs.NotFoundf("job %q", id)
	}
	go s.run(j)
	return nil
}

// List returns the registered jobs sorted by id.
func (s *Scheduler) List() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		next := s.cron.Entry(j.entry).Next
		if next.IsZero() {
			// Engine not started yet; compute from the schedule.
			next = j.sched.Next(time.Now())
		}
		out = append(out, JobStatus{ID: j.id, Trigger: j.trigger.String(), NextRun: next})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// run is the uniform wrapper around every task invocation. No error or panic
// escapes: failures are logged, counted and published, and the trigger stays
// scheduled. Overlapping runs of the same job are skipped rather than queued.
func (s *Scheduler) run(j *job) {
	if !j.running.TryLock() {
		log.Debug().Str("job", j.id).Msg("previous run still active, skipping")
		return
	}
	defer j.running.Unlock()

	s.mu.Lock()
	ctx := s.taskCtx
	s.mu.Unlock()

	start := time.Now()
	log.Debug().Str("job", j.id).Msg("job started")
	s.events.Publish(events.New(events.TypeJobStarted, map[string]any{"id": j.id}))

	err := runTask(ctx, j.task)
	dur := time.Since(start)
	metrics.ObserveJobRun(j.id, err == nil)
	if err != nil {
		log.Error().Str("job", j.id).Dur("duration", dur).Err(err).Msg("job failed")
		s.events.Publish(events.New(events.TypeJobFailed, map[string]any{"id": j.id, "error": err.Error()}))
		return
	}
	log.Debug().Str("job", j.id).Dur("duration", dur).Msg("job completed")
	s.events.Publish(events.New(events.TypeJobCompleted, map[string]any{"id": j.id, "duration_ms": dur.Milliseconds()}))
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}
