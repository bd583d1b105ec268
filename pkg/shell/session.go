package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/rizal/riko/pkg/tool"
)

const (
	// DefaultTimeout is the per-command timeout applied when a Run call
	// does not override it.
	DefaultTimeout = 120 * time.Second

	shellPath    = "/bin/bash"
	pollInterval = 50 * time.Millisecond
)

// Session owns one persistent bash process and executes one command at
// a time against it. The only channel to the shell is an unstructured
// text stream, so command completion is detected by writing a uniquely
// generated sentinel line after each command and reading output until
// the sentinel reappears. The sentinel embeds a per-session nonce and a
// monotonically increasing sequence number, so a late or duplicate
// sentinel from a previous command can never match the current one.
//
// All methods are safe for concurrent use; commands are serialized, at
// most one is ever in flight.
type Session struct {
	logger         zerolog.Logger
	defaultTimeout time.Duration

	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	stdout        *stream
	stderr        *stream
	exited        chan error
	indeterminate bool
	seq           uint64
	nonce         string
	lastActivity  time.Time
}

// stream is a write-locked buffer the process pipes drain into.
type stream struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
}

// NewSession creates a session. The process is spawned lazily on the
// first Run (or an explicit Start).
func NewSession(logger zerolog.Logger, defaultTimeout time.Duration) *Session {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Session{
		logger:         logger.With().Str("component", "shell").Logger(),
		defaultTimeout: defaultTimeout,
	}
}

// Start spawns the persistent shell process if it is not already
// running. Returns a StartError if the process cannot be spawned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aliveLocked() {
		return nil
	}
	s.teardownLocked()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(shellPath)
	// Own process group so Stop can reap children spawned by commands.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &StartError{Err: err}
	}

	stdout := &stream{}
	stderr := &stream{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return &StartError{Err: err}
	}

	nonce, err := gonanoid.New()
	if err != nil {
		_ = cmd.Process.Kill()
		return &StartError{Err: err}
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	s.exited = exited
	s.indeterminate = false
	s.nonce = nonce
	s.lastActivity = time.Now()

	s.logger.Debug().Int("pid", cmd.Process.Pid).Msg("Shell session started")

	return nil
}

// aliveLocked reports whether a process is running right now.
func (s *Session) aliveLocked() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Running reports whether the shell process is alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

// LastActivity returns when the session last started or completed a
// command.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Indeterminate reports whether the session was left in an unknown
// state by a timeout or cancellation and needs a restart.
func (s *Session) Indeterminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indeterminate
}

// Run executes one command and returns its captured output. The
// session is started automatically if absent. A timeout of zero falls
// back to the configured default. A non-zero exit code yields a
// failure result; a timeout marks the session indeterminate and
// returns a TimeoutError.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) (tool.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indeterminate {
		return tool.Result{}, ErrIndeterminate
	}

	if !s.aliveLocked() {
		s.teardownLocked()
		if err := s.startLocked(ctx); err != nil {
			return tool.Result{}, err
		}
	}

	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	s.seq++
	sentinel := fmt.Sprintf("__RIKO_DONE_%s_%d__", s.nonce, s.seq)

	s.stdout.Reset()
	s.stderr.Reset()

	if _, err := io.WriteString(s.stdin, command+"\necho "+sentinel+" $?\n"); err != nil {
		s.teardownLocked()
		return tool.Result{}, &ExitedError{Err: err}
	}
	s.lastActivity = time.Now()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	exited := s.exited

	for {
		select {
		case <-ctx.Done():
			// The command may still be running; interleaved output from
			// it would corrupt sentinel matching for the next command.
			s.indeterminate = true
			s.logger.Warn().Uint64("seq", s.seq).Msg("Command cancelled, session marked indeterminate")
			return tool.Result{}, ctx.Err()

		case <-deadline.C:
			s.indeterminate = true
			s.logger.Warn().Dur("timeout", timeout).Msg("Command timed out, session marked indeterminate")
			return tool.Result{}, &TimeoutError{After: timeout}

		case err := <-exited:
			// Process died mid-command (for example the command ran
			// exit). Check for a sentinel that raced the shutdown.
			if result, ok := s.collectLocked(sentinel); ok {
				s.teardownLocked()
				return result, nil
			}
			s.teardownLocked()
			return tool.Result{}, &ExitedError{Err: err}

		case <-ticker.C:
			if result, ok := s.collectLocked(sentinel); ok {
				s.lastActivity = time.Now()
				return result, nil
			}
		}
	}
}

// collectLocked scans buffered output for the sentinel and, on a
// match, parses everything before it as the command's output and the
// integer after it as the exit code.
func (s *Session) collectLocked(sentinel string) (tool.Result, bool) {
	out := s.stdout.String()
	idx := strings.Index(out, sentinel)
	if idx < 0 {
		return tool.Result{}, false
	}

	code, ok := parseExitCode(out[idx+len(sentinel):])
	if !ok {
		// The exit code marker has not been flushed yet.
		return tool.Result{}, false
	}

	output := strings.TrimSuffix(out[:idx], "\n")
	errText := strings.TrimSuffix(s.stderr.String(), "\n")
	s.stdout.Reset()
	s.stderr.Reset()

	result := tool.Result{Output: output, Error: errText}
	if code != 0 {
		result.Failure = true
		if result.Error == "" {
			result.Error = fmt.Sprintf("command exited with code %d", code)
		}
	}

	s.logger.Debug().Int("exit_code", code).Int("output_len", len(output)).Msg("Command completed")

	return result, true
}

// parseExitCode reads the integer between the sentinel and the next
// newline. The newline confirms the echo line was fully flushed.
func parseExitCode(rest string) (int, bool) {
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest[:nl]))
	if err != nil {
		return 0, false
	}
	return code, true
}

// Restart unconditionally terminates the current process, clears all
// session state and lets the next Run start fresh. Calling it on a
// dead or never-started session is a no-op success.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.indeterminate = false
	return nil
}

// Stop terminates the process and releases all resources.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// teardownLocked kills the process group and clears process state.
func (s *Session) teardownLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		if s.stdin != nil {
			_ = s.stdin.Close()
		}
		// Negative pid addresses the whole process group.
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
		<-s.exited
		s.logger.Debug().Msg("Shell session terminated")
	}
	s.cmd = nil
	s.stdin = nil
	s.exited = nil
}
