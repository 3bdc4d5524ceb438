package workerctx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"framecut/internal/logging"
	"framecut/internal/protocol"
	"framecut/internal/services"
)

// Context is one live worker process. Its scratch directory is private to it
// and removed after it exits.
type Context struct {
	manager    *Manager
	generation uint64
	scratch    string
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	stdin      io.WriteCloser
	encoder    *protocol.Encoder
	stderr     *tailBuffer
	logger     *slog.Logger

	teardown sync.Once
	mu       sync.Mutex
	reason   error
	done     chan struct{}
}

// Generation identifies the context; it increases with every replacement.
func (c *Context) Generation() uint64 { return c.generation }

// ScratchDir is the context's private working directory.
func (c *Context) ScratchDir() string { return c.scratch }

// InputPath returns a path under the context's inputs directory.
func (c *Context) InputPath(name string) string {
	return scratchPath(protocol.InputsDir(c.scratch), name)
}

// Done is closed once the process has exited and the teardown has been
// reported.
func (c *Context) Done() <-chan struct{} { return c.done }

// Err returns the teardown reason, or nil while the context is live.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Send writes a message to the worker.
func (c *Context) Send(msg protocol.Message) error {
	if err := c.Err(); err != nil {
		return services.Wrap(services.ErrContextFailure, "workerctx", "send", "context torn down", err)
	}
	if err := c.encoder.Send(msg); err != nil {
		return services.Wrap(services.ErrContextFailure, "workerctx", "send", string(msg.Type), err)
	}
	return nil
}

// Terminate tears down this context if it is still live. Unlike
// Manager.Terminate it never touches a replacement context.
func (c *Context) Terminate(reason error) {
	m := c.manager
	m.mu.Lock()
	if m.current == c {
		m.current = nil
	}
	m.mu.Unlock()
	c.terminate(reason)
}

func (c *Context) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return c.Err() != nil
	}
}

// terminate reports the teardown and then kills the process.
func (c *Context) terminate(reason error) {
	if reason == nil {
		reason = services.Wrap(services.ErrContextFailure, "workerctx", "terminate", "terminated", nil)
	}
	c.report(reason)
	_ = c.stdin.Close()
	c.cancel()
}

func (c *Context) report(reason error) {
	c.teardown.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.logger.Info("execution context torn down", logging.Error(reason))
		c.manager.events.Teardown(c, reason)
	})
}

func (c *Context) run(stdout io.Reader) {
	defer close(c.done)

	dec := protocol.NewDecoder(stdout)
	for {
		msg, err := dec.Next()
		if err == nil {
			c.manager.events.Message(c, msg)
			continue
		}
		if errors.Is(err, protocol.ErrMalformed) {
			c.logger.Warn("dropping malformed worker output", logging.Error(err))
			continue
		}
		if !errors.Is(err, io.EOF) {
			c.logger.Warn("worker output stream failed", logging.Error(err))
		}
		break
	}

	waitErr := c.cmd.Wait()
	c.cancel()
	c.report(c.exitReason(waitErr))
	c.manager.release(c)
}

func (c *Context) exitReason(waitErr error) error {
	detail := "worker exited"
	if waitErr != nil {
		detail = fmt.Sprintf("worker exited: %v", waitErr)
	}
	if tail := strings.TrimSpace(c.stderr.String()); tail != "" {
		detail += ": " + lastLine(tail)
	}
	return services.Wrap(services.ErrContextFailure, "workerctx", "wait", detail, nil)
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
