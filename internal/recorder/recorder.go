// Package recorder wraps external encoder processes that capture radio
// streams to disk, and the manager that supervises them.
package recorder

import (
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/airband/radiorec/internal/env"
)

const (
	// monitorInterval is the liveness poll cadence of the monitor goroutine.
	monitorInterval = time.Second
	// stopGraceTimeout bounds the wait after stdin close + SIGTERM.
	stopGraceTimeout = 5 * time.Second
	// stopKillTimeout bounds the wait after the SIGKILL escalation.
	stopKillTimeout = 2 * time.Second
	// stderrTailSize is how much encoder stderr is retained for diagnostics.
	stderrTailSize = 4096
)

// Recorder owns exactly one encoder process. It is single-use: once stopped
// or exited it is never started again; the manager constructs a fresh one
// for every (re)start.
type Recorder struct {
	spec Spec
	// onError receives unexpected-exit errors from the monitor goroutine.
	onError func(*Recorder, error)

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	recording bool
	stopping  bool // stop signal; single-use, checked by the monitor
	waitDone  chan struct{}
	exitErr   error
	startedAt time.Time
	tail      *tailBuffer
	logCloser io.WriteCloser
}

// New constructs a Recorder for spec. onError may be nil.
func New(spec Spec, onError func(*Recorder, error)) *Recorder {
	return &Recorder{spec: spec, onError: onError, tail: &tailBuffer{max: stderrTailSize}}
}

// Spec returns a copy of the recording spec.
func (r *Recorder) Spec() Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// StartedAt returns when the encoder process was launched.
func (r *Recorder) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// PID returns the encoder process id, or 0 when no process is held.
func (r *Recorder) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Recording reports whether the encoder process is believed to be running.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// StderrTail returns the retained tail of the encoder's stderr output.
func (r *Recorder) StderrTail() string { return r.tail.String() }

// Start locates the encoder, launches it and spawns the monitor.
// The process gets stdin as a pipe (closing it asks the encoder to finalize
// the output), stdout discarded and stderr captured.
func (r *Recorder) Start() error {
	if err := r.spec.validate(); err != nil {
		return err
	}
	bin, err := r.spec.LookupEncoder()
	if err != nil {
		return err
	}
	// #nosec G204 -- argv is assembled from the validated spec
	cmd := exec.Command(bin, r.spec.BuildArgs()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(r.spec.ExtraEnv) > 0 {
		cmd.Env = env.New().Merge(r.spec.ExtraEnv)
	}
	var stderr io.Writer = r.tail
	logW := r.spec.Log.EncoderWriter(r.spec.StationID)
	if logW != nil {
		stderr = io.MultiWriter(r.tail, logW)
	}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		if logW != nil {
			_ = logW.Close()
		}
		return err
	}
	if err := cmd.Start(); err != nil {
		if logW != nil {
			_ = logW.Close()
		}
		return err
	}

	r.mu.Lock()
	r.cmd = cmd
	r.stdin = stdin
	r.logCloser = logW
	r.recording = true
	r.startedAt = time.Now()
	r.waitDone = make(chan struct{})
	waitDone := r.waitDone
	r.mu.Unlock()

	slog.Debug("encoder started", "station", r.spec.StationID, "pid", cmd.Process.Pid, "output", r.spec.File())

	go r.reap(cmd, waitDone)
	go r.monitor(waitDone)
	return nil
}

// reap waits on the process and publishes its exit.
func (r *Recorder) reap(cmd *exec.Cmd, waitDone chan struct{}) {
	err := cmd.Wait()
	r.mu.Lock()
	r.exitErr = err
	r.mu.Unlock()
	close(waitDone)
}

// monitor polls process liveness. An exit observed before the stop signal
// was raised is an unexpected termination and is surfaced through onError;
// an exit after the stop signal is a normal end.
func (r *Recorder) monitor(waitDone <-chan struct{}) {
	t := time.NewTicker(monitorInterval)
	defer t.Stop()
	for {
		select {
		case <-waitDone:
			r.handleExit()
			return
		case <-t.C:
		}
	}
}

func (r *Recorder) handleExit() {
	r.mu.Lock()
	stopping := r.stopping
	exitErr := r.exitErr
	r.mu.Unlock()
	r.release()
	if stopping {
		return
	}
	slog.Warn("encoder exited unexpectedly",
		"station", r.spec.StationID, "program", r.spec.ProgramTitle, "error", exitErr)
	if r.onError != nil {
		r.onError(r, &StreamError{
			StationID:    r.spec.StationID,
			ProgramTitle: r.spec.ProgramTitle,
			ExitErr:      exitErr,
			Stderr:       r.tail.String(),
		})
	}
}

// Stop terminates the encoder. It is idempotent and safe from any goroutine:
// user stop, the deferred-stop watcher and manager shutdown may all call it.
// Escalation: close stdin + SIGTERM, wait 5s, SIGKILL, wait 2s, give up with
// a log line. The process handle is dropped on every exit path.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.cmd == nil || r.stopping {
		r.recording = false
		r.mu.Unlock()
		return
	}
	r.stopping = true
	cmd := r.cmd
	stdin := r.stdin
	waitDone := r.waitDone
	r.mu.Unlock()

	defer r.release()

	if stdin != nil {
		// Signals a graceful end of input to the encoder.
		_ = stdin.Close()
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-waitDone:
		slog.Debug("encoder stopped", "station", r.spec.StationID, "output", r.spec.File())
		return
	case <-time.After(stopGraceTimeout):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-waitDone:
	case <-time.After(stopKillTimeout):
		// Resource leak: log it, never block the caller further.
		slog.Error("encoder did not exit after SIGKILL", "station", r.spec.StationID, "pid", pid)
	}
}

// release clears the recording flag and drops the process handle.
// Idempotent; called from both the monitor and Stop.
func (r *Recorder) release() {
	r.mu.Lock()
	r.recording = false
	r.cmd = nil
	r.stdin = nil
	if r.logCloser != nil {
		_ = r.logCloser.Close()
		r.logCloser = nil
	}
	r.mu.Unlock()
}

// stopRequested reports whether Stop has been called.
func (r *Recorder) stopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
