// Package agent assembles the warden daemon. It builds the object graph from
// the configuration, registers the built-in maintenance jobs and owns the
// startup and shutdown order of everything underneath the HTTP server.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"warden/internal/artifact"
	"warden/internal/config"
	"warden/internal/console"
	"warden/internal/events"
	"warden/internal/httpapi"
	"warden/internal/lifecycle"
	"warden/internal/metrics"
	"warden/internal/scheduler"
	"warden/internal/versions"
)

// Built-in job ids. They appear in GET /v1/jobs and can be unscheduled like
// any other job.
const (
	JobVersionsRefresh = "versions-refresh"
	JobMetricsCollect  = "metrics-collect"
	JobArtifactGC      = "artifact-gc"
)

// Agent is the assembled daemon.
type Agent struct {
	cfg config.Config

	console   *console.Buffer
	versions  *versions.Service
	ring      *metrics.Ring
	collector *metrics.Collector
	events    events.Publisher
	nats      *events.NATSPublisher
	watcher   *config.SettingsWatcher
	manager   *lifecycle.Manager
	sched     *scheduler.Scheduler
	api       *httpapi.Server
}

// New wires the daemon from cfg. Nothing fires until Start; construction only
// touches the filesystem to create the data directory and recover the
// installed version from the current symlink.
func New(cfg config.Config) (*Agent, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Game.SettingsFile), 0o755); err != nil {
		return nil, fmt.Errorf("settings dir: %w", err)
	}

	a := &Agent{cfg: cfg}
	a.console = console.NewBuffer(cfg.Console.Capacity)

	src := versions.Disabled()
	if cfg.Versions.BaseURL != "" {
		src = versions.NewHTTPSource(cfg.Versions.BaseURL, vendorTimeout(cfg))
	}
	a.versions = versions.NewService(src)

	a.ring = metrics.NewRing(cfg.Metrics.HistorySize)
	collector, err := metrics.NewCollector(a.ring)
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}
	a.collector = collector

	a.events = events.Noop()
	if cfg.NATS.URL != "" {
		pub, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("nats %s: %w", cfg.NATS.URL, err)
		}
		a.nats = pub
		a.events = pub
	}

	watcher, err := config.NewSettingsWatcher(cfg.Game.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}
	a.watcher = watcher

	a.manager = lifecycle.NewManager(lifecycle.Options{
		Config:           cfg,
		Console:          a.console,
		Versions:         a.versions,
		Events:           a.events,
		Tracker:          a.collector,
		AckSettingsWrite: watcher.Expect,
	})
	watcher.OnChange(func() {
		a.manager.RequireRestart("settings file changed on disk")
	})

	a.sched = scheduler.New(a.events)
	if err := a.registerJobs(); err != nil {
		return nil, err
	}

	a.api = httpapi.NewServer(httpapi.Options{
		Lifecycle: a.manager,
		Jobs:      a.sched,
		Console:   a.console,
		Versions:  a.versions,
		History:   a.ring,
	})
	return a, nil
}

func (a *Agent) registerJobs() error {
	specs := []struct {
		id         string
		trigger    string
		runAtStart bool
		task       scheduler.Task
	}{
		{JobVersionsRefresh, a.cfg.Jobs.VersionsRefresh, true, a.refreshVersions},
		{JobMetricsCollect, a.cfg.Jobs.MetricsCollect, true, a.collector.Collect},
		{JobArtifactGC, a.cfg.Jobs.ArtifactGC, false, a.collectGarbage},
	}
	for _, s := range specs {
		if s.id == JobVersionsRefresh && a.cfg.Versions.BaseURL == "" {
			log.Info().Msg("no vendor url configured, version refresh job disabled")
			continue
		}
		trig, err := scheduler.ParseTrigger(s.trigger)
		if err != nil {
			return fmt.Errorf("job %s: %w", s.id, err)
		}
		spec := scheduler.JobSpec{ID: s.id, Trigger: trig, Task: s.task, RunAtStart: s.runAtStart}
		if err := a.sched.Add(spec); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) refreshVersions(ctx context.Context) error {
	return a.versions.Refresh(ctx)
}

// collectGarbage prunes the download cache past its byte budget and removes
// version directories no longer reachable from the current symlink.
func (a *Agent) collectGarbage(ctx context.Context) error {
	var errs []error
	if a.cfg.Cache.MaxMB > 0 {
		budget := a.cfg.Cache.MaxMB * 1024 * 1024
		if err := artifact.PruneCache(a.cfg.CacheDir(), budget); err != nil {
			errs = append(errs, err)
		}
	}
	keep := map[string]struct{}{}
	if v := a.manager.InstalledVersion(); v != "" {
		keep[v] = struct{}{}
	}
	if err := artifact.PruneDirs(a.cfg.VersionsDir(), keep); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Start begins firing jobs and watching the settings file. ctx is handed to
// every job run; cancel it to tell long tasks to wind down.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.watcher.Start(); err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	a.sched.Start(ctx)
	log.Info().
		Str("state", string(a.manager.Status().State)).
		Str("data_dir", a.cfg.Data.Dir).
		Msg("agent started")
	return nil
}

// Router returns the HTTP handler for the local API.
func (a *Agent) Router() http.Handler { return a.api.Router() }

// Manager exposes the lifecycle manager.
func (a *Agent) Manager() *lifecycle.Manager { return a.manager }

// Scheduler exposes the job scheduler.
func (a *Agent) Scheduler() *scheduler.Scheduler { return a.sched }

// Close shuts the daemon down: triggers stop firing, in-flight jobs get until
// ctx expires to finish, a running game server is stopped with its grace
// period, and the event sink is flushed last.
func (a *Agent) Close(ctx context.Context) error {
	stopped := a.sched.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		log.Warn().Msg("job still running at shutdown")
	}
	if err := a.watcher.Stop(); err != nil {
		log.Warn().Err(err).Msg("settings watcher stop")
	}
	a.manager.Shutdown(ctx)
	if a.nats != nil {
		a.nats.Close()
	}
	log.Info().Msg("agent closed")
	return nil
}

func vendorTimeout(cfg config.Config) time.Duration {
	if d, err := time.ParseDuration(cfg.Versions.Timeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}
