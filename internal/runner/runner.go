// Package runner spawns and terminates the supervised game process. It owns
// nothing about policy: when to start, whether to restart and what an exit
// means are lifecycle decisions. The runner guarantees process-group
// delivery of signals, ordered line streaming and exactly one Wait per
// process.
package runner

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// LineFunc receives one line of process output. stream is "stdout" or
// "stderr". Calls arrive in order per stream.
type LineFunc func(stream, text string)

// Options specifies how to start the process.
type Options struct {
	Command string
	Args    []string
	Env     []string // appended to the parent environment
	Dir     string
	NoFile  uint64 // RLIMIT_NOFILE for the child, 0 leaves the default
	OnLine  LineFunc
}

// Handle tracks a running process. The exit result is available through
// Done and Err; both may be read by any number of goroutines.
type Handle struct {
	PID       int
	StartedAt time.Time

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdinMu sync.Mutex
	done    chan struct{}
	waitErr error // set before done is closed
}

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the Wait result. Only valid after Done is closed.
func (h *Handle) Err() error { return h.waitErr }

// ExitCode returns the process exit code after Done is closed: 0 for a clean
// exit, the code for a failed one, -1 when the process was killed by a
// signal.
func (h *Handle) ExitCode() int {
	if h.waitErr == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(h.waitErr, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// Uptime reports how long the process has been running.
func (h *Handle) Uptime() time.Duration { return time.Since(h.StartedAt) }

// WriteLine sends one line to the process stdin.
func (h *Handle) WriteLine(s string) error {
	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	if h.stdin == nil {
		return errors.New("stdin closed")
	}
	_, err := io.WriteString(h.stdin, s+"\n")
	return err
}

// Runner starts and stops native processes.
type Runner struct{}

func New() *Runner { return &Runner{} }

// Start launches the process in its own process group and returns a handle.
// Output lines are delivered to opts.OnLine until the process exits.
func (r *Runner) Start(opts Options) (*Handle, error) {
	if opts.Command == "" {
		return nil, errors.New("empty command")
	}
	if err := applyRlimits(opts.NoFile); err != nil {
		return nil, err
	}
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	// Own process group so signals reach the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		stdin:     stdin,
		done:      make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() { defer readers.Done(); streamLines("stdout", stdout, opts.OnLine) }()
	go func() { defer readers.Done(); streamLines("stderr", stderr, opts.OnLine) }()

	// Single waiter; everyone else observes the result via Done.
	go func() {
		readers.Wait()
		h.waitErr = cmd.Wait()
		h.stdinMu.Lock()
		_ = stdin.Close()
		h.stdin = nil
		h.stdinMu.Unlock()
		close(h.done)
	}()
	return h, nil
}

// Stop asks the process group to exit with SIGTERM and escalates to SIGKILL
// after the grace period. It returns once the process has exited.
func (r *Runner) Stop(h *Handle, grace time.Duration) error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	default:
	}
	pgid := -h.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
		log.Warn().Int("pid", h.PID).Dur("grace", grace).Msg("process ignored SIGTERM, sending SIGKILL")
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-h.done
		return nil
	}
}

// Signal delivers sig to the process group.
func (r *Runner) Signal(h *Handle, sig syscall.Signal) error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return errors.New("no process")
	}
	return syscall.Kill(-h.cmd.Process.Pid, sig)
}

func streamLines(stream string, r io.Reader, fn LineFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if fn != nil {
			fn(stream, text)
		}
		log.Debug().Str("stream", stream).Msg(text)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Debug().Err(err).Str("stream", stream).Msg("output stream ended")
	}
}
