package session

import (
	"context"
	"sync"
)

// loadCall is one in-flight load shared by every waiter.
type loadCall struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error

	mu      sync.Mutex
	logs    []string
	changed chan struct{}
}

func newLoadCall() *loadCall {
	ctx, cancel := context.WithCancel(context.Background())
	return &loadCall{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// publish appends a load log line. It never calls into waiters, so it is safe
// on the goroutine routing worker events.
func (c *loadCall) publish(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.logs = append(c.logs, line)
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *loadCall) since(n int) ([]string, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logs[n:len(c.logs):len(c.logs)], c.changed
}

// follow delivers every line, from the first one on, to fn on its own
// goroutine. The returned channel is closed once the call finished and all of
// its lines were delivered, or after stop is closed.
func (c *loadCall) follow(fn func(string), stop <-chan struct{}) <-chan struct{} {
	drained := make(chan struct{})
	if fn == nil {
		close(drained)
		return drained
	}
	go func() {
		defer close(drained)
		next := 0
		deliver := func(lines []string) bool {
			for _, line := range lines {
				select {
				case <-stop:
					return false
				default:
				}
				fn(line)
			}
			next += len(lines)
			return true
		}
		for {
			batch, changed := c.since(next)
			if !deliver(batch) {
				return
			}
			select {
			case <-changed:
			case <-stop:
				return
			case <-c.done:
				// No line is published after done.
				rest, _ := c.since(next)
				deliver(rest)
				return
			}
		}
	}()
	return drained
}

func (c *loadCall) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		close(c.done)
		c.mu.Unlock()
		c.cancel()
	})
}
