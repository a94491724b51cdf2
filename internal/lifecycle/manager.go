package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"warden/internal/artifact"
	"warden/internal/config"
	"warden/internal/console"
	"warden/internal/errdefs"
	"warden/internal/events"
	"warden/internal/metrics"
	"warden/internal/runner"
	"warden/internal/versions"
)

// ProcessTracker follows the supervised pid for resource sampling.
type ProcessTracker interface {
	TrackGame(pid int)
	UntrackGame()
}

// Options wires the manager's collaborators.
type Options struct {
	Config   config.Config
	Runner   *runner.Runner
	Console  *console.Buffer
	Versions *versions.Service
	Events   events.Publisher
	Tracker  ProcessTracker
	// AckSettingsWrite is called right before the manager writes the settings
	// file so the drift watcher can tell the daemon's own change from an
	// outside edit.
	AckSettingsWrite func()
}

// Status is the lock-free view of the server.
type Status struct {
	State          State               `json:"state"`
	Version        string              `json:"version,omitempty"`
	PID            int                 `json:"pid,omitempty"`
	UptimeSeconds  int64               `json:"uptime_seconds,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
	PendingRestart PendingRestartState `json:"pending_restart"`
}

// Manager drives the install/start/stop/restart state machine for the one
// supervised game server. opMu is the lifecycle lock: it is only ever
// try-acquired, so a caller racing an in-flight transition gets ErrConflict
// instead of blocking. An install hands the held lock to its background
// pipeline, which releases it on the terminal state.
type Manager struct {
	cfg      config.Config
	runner   *runner.Runner
	console  *console.Buffer
	versions *versions.Service
	events   events.Publisher
	tracker  ProcessTracker
	ackWrite func()

	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	version  string
	lastErr  string
	proc     *runner.Handle
	progress InstallProgress

	pending pendingRestart
}

// NewManager builds the manager and recovers the installed version from the
// current symlink. The daemon keeps no state file; the disk is the record.
func NewManager(opts Options) *Manager {
	if opts.Events == nil {
		opts.Events = events.Noop()
	}
	if opts.Runner == nil {
		opts.Runner = runner.New()
	}
	m := &Manager{
		cfg:      opts.Config,
		runner:   opts.Runner,
		console:  opts.Console,
		versions: opts.Versions,
		events:   opts.Events,
		tracker:  opts.Tracker,
		ackWrite: opts.AckSettingsWrite,
		state:    StateNotInstalled,
	}
	if v := m.recoverInstalled(); v != "" {
		m.state = StateInstalled
		m.version = v
		log.Info().Str("version", v).Msg("recovered installed version")
	}
	m.progress = InstallProgress{State: m.state, UpdatedAt: time.Now()}
	metrics.ObserveServerState(string(m.state))
	return m
}

func (m *Manager) recoverInstalled() string {
	link := m.cfg.CurrentLink()
	target, err := os.Readlink(link)
	if err != nil {
		return ""
	}
	v := filepath.Base(target)
	if versions.Validate(v) != nil {
		return ""
	}
	if st, err := os.Stat(link); err != nil || !st.IsDir() {
		return ""
	}
	return v
}

// Status returns a snapshot without touching the lifecycle lock, so it may
// observe transitional states.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{State: m.state, Version: m.version, LastError: m.lastErr}
	if m.proc != nil {
		st.PID = m.proc.PID
		st.UptimeSeconds = int64(m.proc.Uptime().Seconds())
	}
	m.mu.RUnlock()
	st.PendingRestart = m.pending.State()
	return st
}

// Progress returns a copy of the current install progress.
func (m *Manager) Progress() InstallProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.progress
	p.State = m.state
	return p
}

// Install resolves spec (a concrete version or a channel alias), validates
// it, and launches the install pipeline in the background. The returned
// progress carries the operation id to poll on.
func (m *Manager) Install(ctx context.Context, spec string, force bool) (InstallProgress, error) {
	version, err := m.versions.Resolve(ctx, spec)
	if err != nil {
		return InstallProgress{}, err
	}

	if !m.opMu.TryLock() {
		return InstallProgress{}, errdefs.Conflictf("another lifecycle operation is in flight")
	}
	// The lock travels with the pipeline on success and is released here on
	// every early return.

	m.mu.RLock()
	st, installed := m.state, m.version
	m.mu.RUnlock()
	if !st.installable() {
		m.opMu.Unlock()
		return InstallProgress{}, errdefs.Conflictf("cannot install from state %q", st)
	}
	if st == StateInstalled && !force {
		m.opMu.Unlock()
		return InstallProgress{}, errdefs.Conflictf("version %s already installed, reinstall requires force", installed)
	}

	info, err := m.versions.Find(ctx, version)
	if err != nil {
		m.opMu.Unlock()
		return InstallProgress{}, err
	}

	m.mu.Lock()
	m.progress = InstallProgress{
		State:     StateInstalling,
		Version:   version,
		Message:   "install queued",
		OpID:      uuid.NewString(),
		UpdatedAt: time.Now(),
	}
	snap := m.progress
	m.setStateLocked(StateInstalling)
	m.mu.Unlock()

	log.Info().Str("version", version).Bool("force", force).Str("op_id", snap.OpID).Msg("install started")
	go m.installPipeline(info, force)
	return snap, nil
}

// installPipeline runs download, verify, extract and configure. It owns the
// lifecycle lock it inherited from Install and releases it on the terminal
// state. There is no cancellation: an install runs to Installed or Error.
func (m *Manager) installPipeline(info versions.VersionInfo, force bool) {
	defer m.opMu.Unlock()
	version := info.Version
	target := filepath.Join(m.cfg.VersionsDir(), version)

	m.setStage(StageDownloading, 0, "downloading "+info.Filename)
	archive, reused, err := m.download(info)
	if err != nil {
		m.failInstall(err)
		return
	}
	if reused {
		log.Info().Str("version", version).Msg("archive reused from cache")
	}

	m.setStage(StageExtracting, 70, "extracting "+filepath.Base(archive))
	if force {
		if err := os.RemoveAll(target); err != nil {
			m.failInstall(errdefs.Internalf("clear %s: %v", target, err))
			return
		}
	}
	if err := artifact.Unpack(archive, target); err != nil {
		m.failInstall(err)
		return
	}

	m.setStage(StageConfiguring, 90, "writing configuration")
	if err := m.configure(version); err != nil {
		m.failInstall(err)
		return
	}

	m.mu.Lock()
	m.version = version
	m.lastErr = ""
	m.progress = InstallProgress{
		State:     StateInstalled,
		Percent:   100,
		Version:   version,
		Message:   "installed " + version,
		OpID:      m.progress.OpID,
		UpdatedAt: time.Now(),
	}
	snap := m.progress
	m.setStateLocked(StateInstalled)
	m.mu.Unlock()

	metrics.ObserveInstall("ok")
	m.events.Publish(events.New(events.TypeInstallProgress, map[string]any{
		"op_id": snap.OpID, "percent": 100, "version": version, "state": string(StateInstalled),
	}))
	log.Info().Str("version", version).Msg("install complete")
}

// download fetches the archive through the cache, trying every mirror in
// order. Bytes map onto the 0-70% band of the progress bar.
func (m *Manager) download(info versions.VersionInfo) (path string, reused bool, err error) {
	if len(info.DownloadURLs) == 0 {
		return "", false, errdefs.Unavailablef("version %s has no download url", info.Version)
	}
	opts := artifact.FetchOptions{Progress: func(done, total int64) {
		if total > 0 {
			m.setDownloadPercent(int(float64(done) / float64(total) * 70))
		}
	}}
	var errs []error
	for _, u := range info.DownloadURLs {
		path, reused, err = artifact.Ensure(context.Background(), m.cfg.CacheDir(), info.Version, u, info.SHA256, opts)
		if err == nil {
			return path, reused, nil
		}
		errs = append(errs, err)
		log.Warn().Str("url", u).Err(err).Msg("download source failed, trying next")
	}
	return "", false, errors.Join(errs...)
}

// configure seeds the settings file on first install and swaps the current
// symlink to the new version directory.
func (m *Manager) configure(version string) error {
	path := m.cfg.Game.SettingsFile
	if _, err := config.ReadSettings(path); err != nil {
		if !errdefs.IsNotFound(err) {
			return err
		}
		if m.ackWrite != nil {
			m.ackWrite()
		}
		if err := config.WriteSettings(path, config.DefaultSettings(version)); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("seeded default settings")
	}
	return m.linkCurrent(version)
}

// linkCurrent atomically repoints the current symlink. The target is stored
// relative to the link so the data dir stays relocatable.
func (m *Manager) linkCurrent(version string) error {
	link := m.cfg.CurrentLink()
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(filepath.Join("versions", version), tmp); err != nil {
		return errdefs.Internalf("link current: %v", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		return errdefs.Internalf("link current: %v", err)
	}
	return nil
}

func (m *Manager) setStage(stage string, percent int, msg string) {
	m.mu.Lock()
	m.progress.Stage = stage
	m.progress.Percent = percent
	m.progress.Message = msg
	m.progress.UpdatedAt = time.Now()
	snap := m.progress
	m.mu.Unlock()
	m.events.Publish(events.New(events.TypeInstallProgress, map[string]any{
		"op_id": snap.OpID, "stage": stage, "percent": percent, "version": snap.Version,
	}))
	log.Info().Str("stage", stage).Int("percent", percent).Str("version", snap.Version).Msg("install progress")
}

// setDownloadPercent moves the progress bar forward within the download band.
func (m *Manager) setDownloadPercent(p int) {
	if p > 70 {
		p = 70
	}
	m.mu.Lock()
	if p > m.progress.Percent {
		m.progress.Percent = p
		m.progress.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
}

func (m *Manager) failInstall(err error) {
	code := errdefs.Code(err)
	m.mu.Lock()
	m.progress.Error = err.Error()
	m.progress.ErrorCode = code
	m.progress.Message = "install failed"
	m.progress.UpdatedAt = time.Now()
	m.lastErr = err.Error()
	snap := m.progress
	m.setStateLocked(StateError)
	m.mu.Unlock()

	metrics.ObserveInstall(code)
	m.events.Publish(events.New(events.TypeInstallProgress, map[string]any{
		"op_id": snap.OpID, "error": snap.Error, "error_code": code, "version": snap.Version,
	}))
	log.Error().Err(err).Str("version", snap.Version).Str("code", code).Msg("install failed")
}

// Start launches the installed server. Requires Installed or Error.
func (m *Manager) Start(ctx context.Context) error {
	if !m.opMu.TryLock() {
		return errdefs.Conflictf("another lifecycle operation is in flight")
	}
	defer m.opMu.Unlock()

	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()
	if !st.startable() {
		return errdefs.Conflictf("cannot start from state %q", st)
	}
	return m.startProcess()
}

// Stop terminates the running server: SIGTERM, bounded grace, then SIGKILL.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.opMu.TryLock() {
		return errdefs.Conflictf("another lifecycle operation is in flight")
	}
	defer m.opMu.Unlock()

	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()
	if !st.stoppable() {
		return errdefs.Conflictf("cannot stop from state %q", st)
	}
	m.stopProcess()
	return nil
}

// Restart stops the server if it is running and starts it again under a
// single hold of the lifecycle lock. A successful restart is what clears the
// pending-restart flag.
func (m *Manager) Restart(ctx context.Context) error {
	if !m.opMu.TryLock() {
		return errdefs.Conflictf("another lifecycle operation is in flight")
	}
	defer m.opMu.Unlock()

	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()
	switch {
	case st.stoppable():
		m.stopProcess()
	case st.startable():
		// Not running; restart degenerates to a start.
	default:
		return errdefs.Conflictf("cannot restart from state %q", st)
	}
	if err := m.startProcess(); err != nil {
		return err
	}
	metrics.IncRestarts()
	log.Info().Msg("restart complete")
	return nil
}

// startProcess spawns the game process. Caller holds the lifecycle lock and
// has checked the state precondition.
func (m *Manager) startProcess() error {
	m.mu.RLock()
	version := m.version
	m.mu.RUnlock()
	if version == "" {
		return errdefs.Conflictf("no installed version to start")
	}
	command := m.cfg.Game.Command
	if command == "" {
		return errdefs.InvalidArgumentf("game.command is not configured")
	}
	dir := filepath.Join(m.cfg.VersionsDir(), version)
	// Relative paths resolve inside the version dir; bare names go to PATH.
	if !filepath.IsAbs(command) && strings.ContainsRune(command, filepath.Separator) {
		command = filepath.Join(dir, command)
	}

	m.mu.Lock()
	m.setStateLocked(StateStarting)
	m.mu.Unlock()

	h, err := m.runner.Start(runner.Options{
		Command: command,
		Args:    m.cfg.Game.Args,
		Env:     m.cfg.Game.Env,
		Dir:     dir,
		NoFile:  m.cfg.Game.OpenFiles,
		OnLine:  func(stream, text string) { m.console.Append(text) },
	})
	if err != nil {
		m.mu.Lock()
		m.lastErr = "spawn: " + err.Error()
		m.setStateLocked(StateError)
		m.mu.Unlock()
		return errdefs.Internalf("spawn game server: %v", err)
	}

	m.mu.Lock()
	m.proc = h
	m.lastErr = ""
	m.setStateLocked(StateRunning)
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.TrackGame(h.PID)
	}
	go m.watchExit(h)
	log.Info().Int("pid", h.PID).Str("version", version).Msg("game server started")

	if m.pending.State().Required {
		m.pending.Clear()
		log.Info().Msg("pending restart cleared")
	}
	return nil
}

// stopProcess terminates the current process. Caller holds the lifecycle
// lock and has checked the state precondition.
func (m *Manager) stopProcess() {
	m.mu.Lock()
	h := m.proc
	m.setStateLocked(StateStopping)
	m.mu.Unlock()

	_ = m.runner.Stop(h, m.stopGrace())

	m.mu.Lock()
	m.proc = nil
	m.setStateLocked(StateInstalled)
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.UntrackGame()
	}
	m.console.Append("[warden] game server stopped")
	log.Info().Msg("game server stopped")
}

// watchExit settles the state when the process exits on its own. Exits
// driven by stopProcess are recognized by the Stopping state or a swapped
// handle and left alone.
func (m *Manager) watchExit(h *runner.Handle) {
	<-h.Done()

	m.mu.Lock()
	if m.proc != h || m.state == StateStopping {
		m.mu.Unlock()
		return
	}
	m.proc = nil
	code := h.ExitCode()
	if code == 0 {
		m.setStateLocked(StateInstalled)
	} else {
		m.lastErr = fmt.Sprintf("game server exited with code %d", code)
		m.setStateLocked(StateError)
	}
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.UntrackGame()
	}
	m.console.Append(fmt.Sprintf("[warden] game server exited (code %d)", code))
	log.Warn().Int("code", code).Dur("uptime", h.Uptime()).Msg("game server exited on its own")
}

// SendCommand writes one line to the running server's stdin.
func (m *Manager) SendCommand(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return errdefs.InvalidArgumentf("empty command")
	}
	m.mu.RLock()
	h := m.proc
	m.mu.RUnlock()
	if h == nil {
		return errdefs.Conflictf("game server is not running")
	}
	if err := h.WriteLine(line); err != nil {
		return errdefs.Unavailablef("write to game stdin: %v", err)
	}
	return nil
}

// RequireRestart flags that the running server no longer matches its
// configuration. Reasons accumulate until a successful restart.
func (m *Manager) RequireRestart(reason string) {
	m.pending.Require(reason)
	m.events.Publish(events.New(events.TypePendingRestart, map[string]any{"reason": reason}))
	log.Info().Str("reason", reason).Msg("restart required")
}

// PendingRestart returns the drift flag and accumulated reasons.
func (m *Manager) PendingRestart() PendingRestartState { return m.pending.State() }

// Settings returns the current settings document.
func (m *Manager) Settings() (map[string]any, error) {
	return config.ReadSettings(m.cfg.Game.SettingsFile)
}

// UpdateSettings replaces the settings document and records the restart debt.
func (m *Manager) UpdateSettings(doc map[string]any) error {
	if m.ackWrite != nil {
		m.ackWrite()
	}
	if err := config.WriteSettings(m.cfg.Game.SettingsFile, doc); err != nil {
		return err
	}
	m.RequireRestart("settings updated")
	return nil
}

// Shutdown stops the game process at daemon exit, waiting for an in-flight
// transition to settle first. ctx bounds the wait.
func (m *Manager) Shutdown(ctx context.Context) {
	for !m.opMu.TryLock() {
		select {
		case <-ctx.Done():
			log.Warn().Msg("lifecycle transition still in flight at shutdown")
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer m.opMu.Unlock()

	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()
	if st.stoppable() {
		m.stopProcess()
	}
}

// InstalledVersion reports the version the current symlink points at, empty
// when nothing is installed. Used by the cache GC job to keep the active
// version's archive.
func (m *Manager) InstalledVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Manager) stopGrace() time.Duration {
	if d, err := time.ParseDuration(m.cfg.Game.StopGrace); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// setStateLocked records a state change. Callers hold m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.ObserveServerState(string(s))
	m.events.Publish(events.New(events.TypeStateChanged, map[string]any{
		"state": string(s), "version": m.version,
	}))
	log.Info().Str("state", string(s)).Str("version", m.version).Msg("state change")
}
