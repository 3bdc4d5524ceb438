package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"framecut/internal/logging"
	"framecut/internal/services"
)

// State is the engine readiness of the current execution context.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
)

// LoadFunc initializes the engine, reporting progress lines through logf. It
// must return when ctx is done.
type LoadFunc func(ctx context.Context, logf func(string)) error

// Options configures a Machine.
type Options struct {
	Load LoadFunc
	// Check verifies the runtime capability the engine needs. A failure is
	// reported without starting a load.
	Check   func() error
	Timeout time.Duration
	Logger  *slog.Logger
}

// Machine is the unloaded -> loading -> loaded state machine.
type Machine struct {
	load    LoadFunc
	check   func() error
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	call  *loadCall
	epoch uint64
}

// New constructs a machine in the unloaded state.
func New(opts Options) *Machine {
	if opts.Load == nil {
		panic("session: Load is required")
	}
	return &Machine{
		load:    opts.Load,
		check:   opts.Check,
		timeout: opts.Timeout,
		logger:  logging.NewComponentLogger(opts.Logger, "session"),
		state:   StateUnloaded,
	}
}

// State returns the current readiness.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ensure returns once the engine is loaded. It starts a load when none is in
// flight and joins the in-flight one otherwise. Cancelling ctx abandons the
// wait but never the shared load. logf runs on a goroutine of its own and has
// seen every load line by the time Ensure returns the load's outcome.
func (m *Machine) Ensure(ctx context.Context, logf func(string)) error {
	if m.check != nil {
		if err := m.check(); err != nil {
			if !errors.Is(err, services.ErrCapabilityUnavailable) {
				err = services.Wrap(services.ErrCapabilityUnavailable, "session", "load", "runtime capability missing", err)
			}
			return err
		}
	}

	m.mu.Lock()
	switch m.state {
	case StateLoaded:
		m.mu.Unlock()
		return nil
	case StateUnloaded:
		m.call = newLoadCall()
		m.state = StateLoading
		go m.run(m.call, m.epoch)
	}
	call := m.call
	m.mu.Unlock()

	stop := make(chan struct{})
	drained := call.follow(logf, stop)
	select {
	case <-call.done:
		<-drained
		return call.err
	case <-ctx.Done():
		close(stop)
		return ctx.Err()
	}
}

// Reset returns the machine to unloaded. A load in flight is cancelled and its
// waiters fail with reason.
func (m *Machine) Reset(reason error) {
	m.mu.Lock()
	m.epoch++
	prev := m.state
	m.state = StateUnloaded
	call := m.call
	m.call = nil
	m.mu.Unlock()

	if prev != StateUnloaded {
		m.logger.Debug("session reset", logging.String("previous_state", string(prev)))
	}
	if call != nil {
		if reason == nil {
			reason = services.Wrap(services.ErrContextFailure, "session", "load", "execution context reset", nil)
		}
		call.finish(asLoadError(reason))
	}
}

func (m *Machine) run(call *loadCall, epoch uint64) {
	ctx := call.ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	started := time.Now()
	err := m.load(ctx, call.publish)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		err = services.Wrap(services.ErrTimeout, "session", "load", "engine load exceeded "+m.timeout.String(), err)
	}
	if err != nil {
		err = asLoadError(err)
	}

	m.mu.Lock()
	current := m.epoch == epoch && m.call == call
	if current {
		m.call = nil
		if err == nil {
			m.state = StateLoaded
		} else {
			m.state = StateUnloaded
		}
	}
	m.mu.Unlock()

	if !current && err == nil {
		// The context was reset while loading; the engine it loaded is gone.
		err = services.Wrap(services.ErrContextFailure, "session", "load", "execution context reset during load", nil)
	}
	if err != nil {
		m.logger.Warn("engine load failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Classify(err)),
		)
	} else {
		m.logger.Info("engine loaded", logging.Duration("elapsed", time.Since(started)))
	}
	call.finish(err)
}

func asLoadError(err error) error {
	for _, marker := range []error{
		services.ErrLoadFailure,
		services.ErrContextFailure,
		services.ErrTimeout,
		services.ErrCapabilityUnavailable,
		services.ErrClosed,
	} {
		if errors.Is(err, marker) {
			return err
		}
	}
	return services.Wrap(services.ErrLoadFailure, "session", "load", "", err)
}
