package workerctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"framecut/internal/logging"
	"framecut/internal/protocol"
	"framecut/internal/services"
)

// commandContext is swapped in tests to run a fake worker.
var commandContext = exec.CommandContext

const (
	defaultWaitDelay = 2 * time.Second
	stderrTailBytes  = 8 * 1024
)

// Events receives everything a context reports. Message is invoked from a
// single goroutine per context in emission order. Teardown is invoked exactly
// once per context, before the process is killed on Terminate and after it has
// exited on a crash.
type Events interface {
	Message(c *Context, msg protocol.Message)
	Teardown(c *Context, reason error)
}

// Config describes how worker processes are launched.
type Config struct {
	// Binary is the worker executable. Empty means the running executable.
	Binary string
	// Args precede the --scratch flag. Empty means ["worker"].
	Args []string
	// Env is appended to the parent environment.
	Env []string
	// WorkDir holds the per-context scratch directories.
	WorkDir string
	// KeepScratch leaves scratch directories behind after teardown.
	KeepScratch bool
	Logger      *slog.Logger
}

// Manager creates and replaces execution contexts.
type Manager struct {
	cfg    Config
	events Events
	logger *slog.Logger

	mu         sync.Mutex
	current    *Context
	generation uint64
	closed     bool
}

// NewManager validates cfg and returns a manager with no live context.
func NewManager(cfg Config, events Events) (*Manager, error) {
	if events == nil {
		return nil, errors.New("workerctx: events sink is required")
	}
	if strings.TrimSpace(cfg.Binary) == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("workerctx: resolve executable: %w", err)
		}
		cfg.Binary = exe
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"worker"}
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		cfg.WorkDir = os.TempDir()
	}
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("workerctx: resolve work dir: %w", err)
	}
	cfg.WorkDir = workDir
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("workerctx: create work dir: %w", err)
	}
	return &Manager{
		cfg:    cfg,
		events: events,
		logger: logging.NewComponentLogger(cfg.Logger, "workerctx"),
	}, nil
}

// Acquire returns the live context, creating one if none exists.
func (m *Manager) Acquire(ctx context.Context) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, services.ErrClosed
	}
	if m.current != nil && !m.current.exited() {
		return m.current, nil
	}
	c, err := m.start()
	if err != nil {
		return nil, err
	}
	m.current = c
	return c, nil
}

// Current returns the live context or nil.
func (m *Manager) Current() *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.exited() {
		return nil
	}
	return m.current
}

// Generation reports how many contexts have been created.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Terminate tears down the live context, if any. The next Acquire creates a
// fresh one. It does not wait for the process to exit.
func (m *Manager) Terminate(reason error) {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.mu.Unlock()
	if c != nil {
		c.terminate(reason)
	}
}

// Close terminates the live context, waits for it to exit and refuses further
// Acquire calls.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	c := m.current
	m.current = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	c.terminate(services.ErrClosed)
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) start() (*Context, error) {
	scratch, err := os.MkdirTemp(m.cfg.WorkDir, "ctx-*")
	if err != nil {
		return nil, services.Wrap(services.ErrContextFailure, "workerctx", "create", "scratch directory", err)
	}
	if err := os.MkdirAll(protocol.InputsDir(scratch), 0o755); err != nil {
		_ = os.RemoveAll(scratch)
		return nil, services.Wrap(services.ErrContextFailure, "workerctx", "create", "inputs directory", err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	args := append(append([]string{}, m.cfg.Args...), "--scratch", scratch)
	cmd := commandContext(procCtx, m.cfg.Binary, args...)
	cmd.Env = append(cmd.Environ(), m.cfg.Env...)
	cmd.Dir = scratch
	cmd.WaitDelay = defaultWaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		_ = os.RemoveAll(scratch)
		return nil, services.Wrap(services.ErrContextFailure, "workerctx", "create", "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = os.RemoveAll(scratch)
		return nil, services.Wrap(services.ErrContextFailure, "workerctx", "create", "stdout pipe", err)
	}

	m.generation++
	c := &Context{
		manager:    m,
		generation: m.generation,
		scratch:    scratch,
		cmd:        cmd,
		cancel:     cancel,
		stdin:      stdin,
		encoder:    protocol.NewEncoder(stdin),
		stderr:     newTailBuffer(stderrTailBytes),
		done:       make(chan struct{}),
	}
	c.logger = m.logger.With(logging.Uint64(logging.FieldGeneration, c.generation))
	cmd.Stderr = c.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		_ = os.RemoveAll(scratch)
		return nil, services.Wrap(services.ErrContextFailure, "workerctx", "create", "start worker", err)
	}
	c.logger.Info("execution context started",
		logging.Int("pid", cmd.Process.Pid),
		logging.String("scratch", scratch),
	)

	go c.run(stdout)
	return c, nil
}

func (m *Manager) release(c *Context) {
	m.mu.Lock()
	if m.current == c {
		m.current = nil
	}
	m.mu.Unlock()
	if m.cfg.KeepScratch {
		return
	}
	if err := os.RemoveAll(c.scratch); err != nil {
		c.logger.Warn("scratch cleanup failed", logging.Error(err))
	}
}

func scratchPath(base string, parts ...string) string {
	return filepath.Join(append([]string{base}, parts...)...)
}
