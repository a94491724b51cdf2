package runner

import (
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) record(stream, text string) {
	r.mu.Lock()
	r.lines = append(r.lines, stream+": "+text)
	r.mu.Unlock()
}

func (r *lineRecorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

func waitDone(t *testing.T, h *Handle, timeout time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(timeout):
		t.Fatalf("process did not exit within %s", timeout)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	r := New()
	if _, err := r.Start(Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestStartStreamsBothPipes(t *testing.T) {
	r := New()
	rec := &lineRecorder{}
	h, err := r.Start(Options{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo out-line; echo err-line >&2"},
		OnLine:  rec.record,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, h, 5*time.Second)

	got := rec.joined()
	if !strings.Contains(got, "stdout: out-line") {
		t.Errorf("missing stdout line, got:\n%s", got)
	}
	if !strings.Contains(got, "stderr: err-line") {
		t.Errorf("missing stderr line, got:\n%s", got)
	}
	if h.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", h.ExitCode())
	}
}

func TestStopGraceful(t *testing.T) {
	r := New()
	h, err := r.Start(Options{
		Command: "/bin/sh",
		Args:    []string{"-c", `trap 'exit 0' TERM; while true; do sleep 0.05; done`},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	begin := time.Now()
	if err := r.Stop(h, 5*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("graceful stop took %s, expected well under the grace period", elapsed)
	}
	waitDone(t, h, time.Second)
}

func TestStopEscalatesToKill(t *testing.T) {
	r := New()
	h, err := r.Start(Options{
		Command: "/bin/sh",
		Args:    []string{"-c", `trap '' TERM; while true; do sleep 0.05; done`},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	begin := time.Now()
	if err := r.Stop(h, 300*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("kill escalation took %s", elapsed)
	}
	waitDone(t, h, time.Second)
	if h.ExitCode() != -1 {
		t.Errorf("exit code = %d, want -1 for a killed process", h.ExitCode())
	}
}

func TestStopAfterExitIsNoop(t *testing.T) {
	r := New()
	h, err := r.Start(Options{Command: "true"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, h, 5*time.Second)
	if err := r.Stop(h, time.Second); err != nil {
		t.Fatalf("stop after exit: %v", err)
	}
}

func TestWriteLineReachesStdin(t *testing.T) {
	r := New()
	rec := &lineRecorder{}
	h, err := r.Start(Options{
		Command: "/bin/sh",
		Args:    []string{"-c", `read line; echo "got:$line"`},
		OnLine:  rec.record,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.WriteLine("ping"); err != nil {
		t.Fatalf("write line: %v", err)
	}
	waitDone(t, h, 5*time.Second)

	if got := rec.joined(); !strings.Contains(got, "got:ping") {
		t.Errorf("stdin line not echoed, got:\n%s", got)
	}
}

func TestExitCodePropagates(t *testing.T) {
	r := New()
	h, err := r.Start(Options{Command: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, h, 5*time.Second)
	if h.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", h.ExitCode())
	}
	if h.Err() == nil {
		t.Error("expected non-nil wait error for exit 3")
	}
}

func TestSignalReachesProcessGroup(t *testing.T) {
	r := New()
	rec := &lineRecorder{}
	h, err := r.Start(Options{
		Command: "/bin/sh",
		Args:    []string{"-c", `trap 'exit 0' USR1; echo ready; while true; do sleep 0.05; done`},
		OnLine:  rec.record,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Signal only after the shell reports the trap is installed; an untrapped
	// USR1 would kill it.
	readyBy := time.Now().Add(5 * time.Second)
	for !strings.Contains(rec.joined(), "ready") {
		if time.Now().After(readyBy) {
			t.Fatal("shell never reported ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Signal(h, syscall.SIGUSR1); err != nil {
		t.Fatalf("signal: %v", err)
	}
	waitDone(t, h, 5*time.Second)
	if h.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0 after trapped USR1", h.ExitCode())
	}
}
