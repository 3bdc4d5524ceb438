package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"framecut/internal/artifact"
	"framecut/internal/logging"
	"framecut/internal/protocol"
	"framecut/internal/services"
	"framecut/internal/session"
	"framecut/internal/workerctx"
)

// Client drives one execution context. Clients are independent; each owns its
// worker process exclusively.
type Client struct {
	logger       *slog.Logger
	manager      *workerctx.Manager
	session      *session.Machine
	materializer *artifact.Materializer
	recorder     Recorder
	quality      map[Quality]int
	timeout      time.Duration

	mu        sync.Mutex
	ops       map[string]*Operation
	loads     map[string]*pendingLoad
	loadedGen uint64
	closed    bool
}

// pendingLoad is one load request waiting for loaded or error.
type pendingLoad struct {
	id         string
	generation uint64
	logf       func(string)
	once       sync.Once
	done       chan error
}

func (p *pendingLoad) finish(err error) {
	p.once.Do(func() { p.done <- err })
}

// Open constructs a client and starts its execution context. The engine is
// loaded lazily by the first EnsureLoaded or command.
func Open(ctx context.Context, opts Options) (*Client, error) {
	logger := logging.NewComponentLogger(opts.Logger, "bridge")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		logger:       logger,
		materializer: artifact.NewMaterializer(opts.Store),
		recorder:     opts.Recorder,
		quality:      resolveQuality(opts.Quality),
		timeout:      timeout,
		ops:          make(map[string]*Operation),
		loads:        make(map[string]*pendingLoad),
	}

	workerCfg := opts.Worker
	if workerCfg.Logger == nil {
		workerCfg.Logger = opts.Logger
	}
	manager, err := workerctx.NewManager(workerCfg, contextEvents{c})
	if err != nil {
		return nil, err
	}
	c.manager = manager
	c.session = session.New(session.Options{
		Load:    c.loadEngine,
		Check:   opts.Capability,
		Timeout: opts.LoadTimeout,
		Logger:  opts.Logger,
	})

	if _, err := manager.Acquire(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// State reports the engine readiness.
func (c *Client) State() session.State { return c.session.State() }

// Pending counts operations that have not settled.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

// Generation identifies the current execution context; zero means none.
func (c *Client) Generation() uint64 {
	if wc := c.manager.Current(); wc != nil {
		return wc.Generation()
	}
	return 0
}

// EnsureLoaded returns once the engine is loaded, loading it if needed.
// Concurrent callers share a single load. Progress and the final outcome are
// also pushed to onUpdate.
func (c *Client) EnsureLoaded(ctx context.Context, onUpdate UpdateFunc) error {
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}
	var (
		mu   sync.Mutex
		logs []string
		over bool
	)
	push := func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		if over {
			return
		}
		u.Logs = logs[:len(logs):len(logs)]
		onUpdate(u)
		if u.Status != StatusLoading {
			over = true
		}
	}

	push(Update{Status: StatusLoading, Message: "Loading engine..."})
	err := c.session.Ensure(ctx, func(line string) {
		mu.Lock()
		logs = append(logs, line)
		mu.Unlock()
		push(Update{Status: StatusLoading, Message: line})
	})
	if err != nil {
		push(Update{
			Status:    StatusError,
			Message:   err.Error(),
			ErrorKind: services.Classify(err),
		})
		return err
	}
	push(Update{Status: StatusIdle, Progress: 100, Message: "Engine loaded"})
	return nil
}

// Start submits cmd and returns its handle. ctx supplies request-scoped values
// only; the operation is bounded by the client's timeout, not by ctx.
func (c *Client) Start(ctx context.Context, cmd Command, onUpdate UpdateFunc) (*Operation, error) {
	settings, err := cmd.settings(c.quality)
	if err == nil {
		err = ctx.Err()
	}
	c.mu.Lock()
	if err == nil && c.closed {
		err = services.Wrap(services.ErrClosed, "bridge", string(cmd.Kind), "client closed", nil)
	}
	if err != nil {
		c.mu.Unlock()
		if onUpdate != nil {
			onUpdate(Update{Status: StatusError, Message: err.Error(), ErrorKind: services.Classify(err)})
		}
		return nil, err
	}

	id := uuid.NewString()
	ctx = services.WithRequestID(services.WithOperation(ctx, string(cmd.Kind)), id)
	logger := logging.WithContext(ctx, c.logger)
	op := newOperation(c, id, cmd.Kind, settings.Format, onUpdate, logger)
	c.ops[id] = op
	c.mu.Unlock()

	logger.Info("operation submitted")
	go c.dispatch(context.WithoutCancel(ctx), op, cmd, settings)
	return op, nil
}

// Trim cuts a time window out of in.
func (c *Client) Trim(ctx context.Context, in Input, s TrimSettings, onUpdate UpdateFunc) (*artifact.Result, error) {
	return c.run(ctx, TrimCommand(in, s), onUpdate)
}

// ExtractFrames samples in at s.FPS into JPEG images.
func (c *Client) ExtractFrames(ctx context.Context, in Input, s FrameSettings, onUpdate UpdateFunc) (*artifact.Result, error) {
	return c.run(ctx, FramesCommand(in, s), onUpdate)
}

// Convert re-encodes in to webm at the requested quality tier.
func (c *Client) Convert(ctx context.Context, in Input, s ConvertSettings, onUpdate UpdateFunc) (*artifact.Result, error) {
	return c.run(ctx, ConvertCommand(in, s), onUpdate)
}

// Merge trims every clip and concatenates them into one file.
func (c *Client) Merge(ctx context.Context, clips []MergeClip, s MergeSettings, onUpdate UpdateFunc) (*artifact.Result, error) {
	return c.run(ctx, MergeCommand(clips, s), onUpdate)
}

func (c *Client) run(ctx context.Context, cmd Command, onUpdate UpdateFunc) (*artifact.Result, error) {
	op, err := c.Start(ctx, cmd, onUpdate)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

// Terminate fails every pending operation and tears down the execution
// context. The next command starts a fresh context and reloads the engine.
func (c *Client) Terminate() {
	reason := services.Wrap(services.ErrContextFailure, "bridge", "terminate", "terminated by caller", nil)
	pending := c.claimAll()
	c.manager.Terminate(reason)
	for _, op := range pending {
		op.settle(nil, reason, "")
	}
}

// Close fails pending operations, stops the worker and waits for it to exit.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	reason := services.Wrap(services.ErrClosed, "bridge", "close", "client closed", nil)
	pending := c.claimAll()
	err := c.manager.Close(ctx)
	for _, op := range pending {
		op.settle(nil, reason, "")
	}
	return err
}

// claimAll settles the outcome of every pending operation without publishing
// it yet.
func (c *Client) claimAll() []*Operation {
	c.mu.Lock()
	ops := make([]*Operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	c.mu.Unlock()
	claimed := ops[:0]
	for _, op := range ops {
		if op.claim() {
			claimed = append(claimed, op)
		}
	}
	return claimed
}

func (c *Client) forget(op *Operation) {
	c.mu.Lock()
	delete(c.ops, op.id)
	c.mu.Unlock()
}

// replaceContext starts a replacement context after a destructive timeout.
func (c *Client) replaceContext() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	wc, err := c.manager.Acquire(context.Background())
	if err != nil {
		c.logger.Warn("execution context recovery failed", logging.Error(err))
		return
	}
	c.logger.Info("execution context recovered", logging.Uint64(logging.FieldGeneration, wc.Generation()))
}

// loadEngine is the session's load function: one load message on the current
// context, answered by loaded or error.
func (c *Client) loadEngine(ctx context.Context, logf func(string)) error {
	wc, err := c.manager.Acquire(ctx)
	if err != nil {
		return err
	}
	pl := &pendingLoad{
		id:         uuid.NewString(),
		generation: wc.Generation(),
		logf:       logf,
		done:       make(chan error, 1),
	}
	c.mu.Lock()
	c.loads[pl.id] = pl
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.loads, pl.id)
		c.mu.Unlock()
	}()

	if err := wc.Send(protocol.Message{Type: protocol.TypeLoad, ID: pl.id}); err != nil {
		return err
	}

	select {
	case err := <-pl.done:
		if err == nil {
			c.mu.Lock()
			c.loadedGen = wc.Generation()
			c.mu.Unlock()
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// A stuck load leaves the context unusable.
			wc.Terminate(services.Wrap(services.ErrTimeout, "bridge", "load", "engine load timed out", nil))
		}
		return ctx.Err()
	}
}

// dispatch runs the command pipeline: load, bind, arm, stage, send.
func (c *Client) dispatch(ctx context.Context, op *Operation, cmd Command, settings protocol.Settings) {
	op.emit(StatusLoading, "Loading engine...")
	if err := c.session.Ensure(ctx, func(line string) { op.appendLog(StatusLoading, line) }); err != nil {
		op.finish(nil, err, "")
		return
	}

	wc := c.manager.Current()
	c.mu.Lock()
	loadedGen := c.loadedGen
	c.mu.Unlock()
	if wc == nil || wc.Generation() != loadedGen {
		op.finish(nil, services.Wrap(services.ErrContextFailure, "bridge", string(op.kind), "execution context replaced before dispatch", nil), "")
		return
	}

	op.resetLogs()
	if !op.bind(wc) {
		return
	}
	op.arm(c.timeout)

	exec, err := c.stage(ctx, wc, op.id, cmd)
	if err != nil {
		op.finish(nil, err, "")
		return
	}
	exec.Settings = settings

	op.emit(StatusProcessing, "Processing...")
	if err := wc.Send(protocol.Message{Type: protocol.TypeExecute, ID: op.id, Execute: &exec}); err != nil {
		op.finish(nil, err, "")
		return
	}
	op.logger.Debug("command dispatched", logging.Uint64(logging.FieldGeneration, wc.Generation()))
}

// contextEvents adapts the client to workerctx.Events without exporting the
// callbacks.
type contextEvents struct{ c *Client }

func (e contextEvents) Message(wc *workerctx.Context, msg protocol.Message) {
	e.c.route(wc, msg)
}

func (e contextEvents) Teardown(wc *workerctx.Context, reason error) {
	e.c.teardown(wc, reason)
}

func (c *Client) route(wc *workerctx.Context, msg protocol.Message) {
	if msg.ID == "" {
		switch msg.Type {
		case protocol.TypeError:
			c.logger.Warn("execution context reported a fatal error", logging.String("message", msg.Text))
			wc.Terminate(services.Wrap(services.ErrContextFailure, "bridge", "worker", msg.Text, nil))
		case protocol.TypeLog:
			c.logger.Debug("worker log", logging.String("message", msg.Text))
		default:
			c.logger.Debug("dropping uncorrelated event", logging.String("type", string(msg.Type)))
		}
		return
	}

	c.mu.Lock()
	pl := c.loads[msg.ID]
	op := c.ops[msg.ID]
	c.mu.Unlock()

	switch {
	case pl != nil && pl.generation == wc.Generation():
		c.routeLoad(pl, msg)
	case op != nil && op.boundTo(wc):
		c.routeOperation(wc, op, msg)
	default:
		c.logger.Debug("dropping event for unknown request",
			logging.String(logging.FieldRequestID, msg.ID),
			logging.String("type", string(msg.Type)),
		)
	}
}

func (c *Client) routeLoad(pl *pendingLoad, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeLog:
		c.logger.Debug("engine load", logging.String("message", msg.Text))
		if pl.logf != nil {
			pl.logf(msg.Text)
		}
	case protocol.TypeLoaded:
		pl.finish(nil)
	case protocol.TypeError:
		pl.finish(services.Wrap(services.ErrLoadFailure, "bridge", "load", msg.Text, nil))
	}
}

func (c *Client) routeOperation(wc *workerctx.Context, op *Operation, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeProgress:
		op.reportProgress(msg.Percent, msg.Step, msg.Text)
	case protocol.TypeLog:
		op.logger.Debug("engine log", logging.String("message", msg.Text))
		op.appendLog(StatusProcessing, msg.Text)
	case protocol.TypeComplete:
		if !op.claim() {
			return
		}
		go func() {
			result, err := c.collect(wc, op, msg.Output)
			op.settle(result, err, "")
		}()
	case protocol.TypeError:
		op.finish(nil, services.Wrap(services.ErrExecutionFailure, "bridge", string(op.kind), msg.Text, nil), msg.Text)
	}
}

// teardown fails everything bound to the dying context and, when it is the
// context the session loaded, resets the session.
func (c *Client) teardown(wc *workerctx.Context, reason error) {
	gen := wc.Generation()
	c.mu.Lock()
	var doomed []*Operation
	for _, op := range c.ops {
		if op.boundTo(wc) {
			doomed = append(doomed, op)
		}
	}
	var loads []*pendingLoad
	for _, pl := range c.loads {
		if pl.generation == gen {
			loads = append(loads, pl)
		}
	}
	resetSession := c.loadedGen == gen || len(loads) > 0
	c.mu.Unlock()

	claimed := doomed[:0]
	for _, op := range doomed {
		if op.claim() {
			claimed = append(claimed, op)
		}
	}
	for _, pl := range loads {
		pl.finish(reason)
	}
	if resetSession {
		c.session.Reset(reason)
	}
	for _, op := range claimed {
		op.settle(nil, teardownError(op.kind, reason), "")
	}
}

func teardownError(kind protocol.Kind, reason error) error {
	if errors.Is(reason, services.ErrClosed) {
		return services.Wrap(services.ErrClosed, "bridge", string(kind), "client closed", nil)
	}
	return services.Wrap(services.ErrContextFailure, "bridge", string(kind), fmt.Sprintf("execution context torn down: %v", reason), nil)
}
