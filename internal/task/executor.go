package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Flarenzy/wg-ha/internal/domain"
)

const (
	DefaultTimeout   = 10 * time.Minute
	defaultWaitDelay = 5 * time.Second
)

type ExecutorConfig struct {
	ProjectPath string
	Binary      string
	Timeout     time.Duration
}

// Hooks receives lifecycle callbacks from a running job.
type Hooks struct {
	Started  func()
	Progress func(output string)
}

func (h Hooks) started() {
	if h.Started != nil {
		h.Started()
	}
}

func (h Hooks) progress(output string) {
	if h.Progress != nil {
		h.Progress(output)
	}
}

// transientError marks failures worth another attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Executor runs playbooks with the external apply executable.
type Executor struct {
	projectPath string
	binary      string
	timeout     time.Duration
	logger      *slog.Logger
}

func NewExecutor(cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.Binary == "" {
		cfg.Binary = "ansible-playbook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		projectPath: cfg.ProjectPath,
		binary:      cfg.Binary,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Args builds the command line for job.
func Args(job Job) []string {
	args := []string{job.Playbook}
	if len(job.ExtraVars) == 0 {
		return args
	}
	keys := make([]string, 0, len(job.ExtraVars))
	for k := range job.ExtraVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+job.ExtraVars[k])
	}
	return append(args, "--extra-vars", strings.Join(pairs, " "))
}

// Execute runs job and reports the trimmed cumulative output through
// hooks.Progress whenever it changes. A missing playbook fails before any
// process is spawned.
func (e *Executor) Execute(ctx context.Context, job Job, hooks Hooks) error {
	path := filepath.Join(e.projectPath, job.Playbook)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || !withinProject(e.projectPath, path) {
		return &domain.PlaybookMissingError{Path: job.Playbook}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out := &progressWriter{progress: hooks.progress}
	cmd := exec.CommandContext(runCtx, e.binary, Args(job)...)
	cmd.Dir = e.projectPath
	cmd.WaitDelay = defaultWaitDelay
	cmd.Stdout = out
	cmd.Stderr = out

	hooks.started()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("start %s: %w", e.binary, err)
		}
		return &transientError{err: fmt.Errorf("start %s: %w", e.binary, err)}
	}
	e.logger.DebugContext(ctx, "playbook started", "playbook", job.Playbook, "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	output := out.flush()
	if waitErr == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &domain.PlaybookExecutionError{Output: output, ExitCode: -1, TimedOut: true, Timeout: e.timeout}
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &domain.PlaybookExecutionError{Output: output, ExitCode: code}
}

// progressWriter accumulates combined output and reports the trimmed text
// after every completed line when it differs from the last report.
type progressWriter struct {
	mu       sync.Mutex
	buf      strings.Builder
	last     string
	progress func(string)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if bytes.IndexByte(p, '\n') >= 0 {
		w.reportLocked()
	}
	return len(p), nil
}

func (w *progressWriter) flush() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reportLocked()
	return w.last
}

func (w *progressWriter) reportLocked() {
	current := strings.TrimSpace(w.buf.String())
	if current == w.last {
		return
	}
	w.last = current
	w.progress(current)
}

func withinProject(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
