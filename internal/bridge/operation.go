package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"framecut/internal/artifact"
	"framecut/internal/history"
	"framecut/internal/logging"
	"framecut/internal/protocol"
	"framecut/internal/services"
	"framecut/internal/workerctx"
)

const recordTimeout = 5 * time.Second

// Operation is the handle of one submitted command. Exactly one terminal
// update is published per operation, after every progress and log update.
type Operation struct {
	id       string
	kind     protocol.Kind
	format   string
	client   *Client
	started  time.Time
	logger   *slog.Logger
	onUpdate UpdateFunc
	feed     *feed
	sampler  *logging.ProgressSampler
	done     chan struct{}

	mu       sync.Mutex
	wc       *workerctx.Context
	claimed  bool
	timer    *time.Timer
	progress float64
	logs     []string
	result   *artifact.Result
	err      error
}

func newOperation(c *Client, id string, kind protocol.Kind, format string, onUpdate UpdateFunc, logger *slog.Logger) *Operation {
	op := &Operation{
		id:       id,
		kind:     kind,
		format:   format,
		client:   c,
		started:  time.Now(),
		logger:   logger,
		onUpdate: onUpdate,
		feed:     newFeed(),
		sampler:  logging.NewProgressSampler(5),
		done:     make(chan struct{}),
	}
	go op.pump()
	return op
}

// ID is the request id correlating worker events with this operation.
func (op *Operation) ID() string { return op.id }

// Kind is the command kind.
func (op *Operation) Kind() protocol.Kind { return op.kind }

// Started is when the operation was submitted.
func (op *Operation) Started() time.Time { return op.started }

// Done is closed after the terminal update has been delivered to the
// UpdateFunc and the outcome recorded.
func (op *Operation) Done() <-chan struct{} { return op.done }

// Last returns the most recent update.
func (op *Operation) Last() (Update, bool) { return op.feed.last() }

// Outcome returns the result or error once the operation is done.
func (op *Operation) Outcome() (*artifact.Result, error, bool) {
	select {
	case <-op.done:
	default:
		return nil, nil, false
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result, op.err, true
}

// Wait blocks until the operation finishes. When ctx ends first a best-effort
// cancel is sent to the engine and ctx's error is returned; the operation
// still runs to its own terminal event.
func (op *Operation) Wait(ctx context.Context) (*artifact.Result, error) {
	select {
	case <-op.done:
		op.mu.Lock()
		defer op.mu.Unlock()
		return op.result, op.err
	case <-ctx.Done():
		if err := op.Cancel(); err != nil {
			op.logger.Debug("cancel request not delivered", logging.Error(err))
		}
		return nil, ctx.Err()
	}
}

// Cancel asks the engine to stop the command. Delivery does not guarantee
// interruption; the operation still ends with its own terminal event or a
// timeout.
func (op *Operation) Cancel() error {
	op.mu.Lock()
	wc, claimed := op.wc, op.claimed
	op.mu.Unlock()
	if claimed {
		return nil
	}
	if wc == nil {
		return services.Wrap(services.ErrValidation, "bridge", "cancel", "operation not dispatched yet", nil)
	}
	op.logger.Info("cancel requested")
	return wc.Send(protocol.Message{Type: protocol.TypeCancel, ID: op.id})
}

// Updates streams every update from the first one on. The channel is closed
// after the terminal update or when ctx ends.
func (op *Operation) Updates(ctx context.Context) <-chan Update {
	out := make(chan Update)
	go func() {
		defer close(out)
		next := 0
		for {
			batch, changed := op.feed.since(next)
			for _, u := range batch {
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
				if u.Terminal() {
					return
				}
			}
			next += len(batch)
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// pump delivers updates to the UpdateFunc in order and completes the
// operation after the terminal one.
func (op *Operation) pump() {
	next := 0
	for {
		batch, changed := op.feed.since(next)
		for _, u := range batch {
			if op.onUpdate != nil {
				op.onUpdate(u)
			}
			if u.Terminal() {
				op.record(u)
				close(op.done)
				return
			}
		}
		next += len(batch)
		<-changed
	}
}

func (op *Operation) record(u Update) {
	if op.client.recorder == nil {
		return
	}
	op.mu.Lock()
	entry := history.Entry{
		ID:        op.id,
		Kind:      string(op.kind),
		Status:    string(u.Status),
		ErrorKind: u.ErrorKind,
		Duration:  time.Since(op.started),
		CreatedAt: op.started,
	}
	if op.result != nil {
		entry.Filename = op.result.Filename
		entry.Size = op.result.Size
	}
	if op.err != nil {
		entry.Error = op.err.Error()
	}
	op.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := op.client.recorder.Record(ctx, entry); err != nil {
		op.logger.Warn("history record failed", logging.Error(err))
	}
}

// emit publishes a non-terminal update unless the operation already settled.
func (op *Operation) emit(status Status, message string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.claimed {
		return
	}
	op.feed.push(Update{
		Status:   status,
		Progress: op.progress,
		Message:  message,
		Logs:     op.logs[:len(op.logs):len(op.logs)],
	})
}

func (op *Operation) appendLog(status Status, line string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.claimed {
		return
	}
	op.logs = append(op.logs, line)
	op.feed.push(Update{
		Status:   status,
		Progress: op.progress,
		Message:  line,
		Logs:     op.logs[:len(op.logs):len(op.logs)],
	})
}

func (op *Operation) resetLogs() {
	op.mu.Lock()
	op.logs = nil
	op.mu.Unlock()
}

func (op *Operation) reportProgress(percent float64, step, text string) {
	message := step
	if message == "" {
		message = text
	}
	if message == "" {
		message = fmt.Sprintf("Processing... %d%%", int(percent))
	}
	op.mu.Lock()
	if op.claimed {
		op.mu.Unlock()
		return
	}
	op.progress = percent
	op.feed.push(Update{
		Status:   StatusProcessing,
		Progress: percent,
		Message:  message,
		Logs:     op.logs[:len(op.logs):len(op.logs)],
	})
	op.mu.Unlock()

	if op.sampler.ShouldLog(percent, step) {
		op.logger.Info("operation progress",
			logging.Float64("percent", percent),
			logging.String("step", message),
		)
	}
}

// bind attaches the operation to the context it is dispatched to. It fails
// when the operation already settled.
func (op *Operation) bind(wc *workerctx.Context) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.claimed {
		return false
	}
	op.wc = wc
	return true
}

func (op *Operation) boundTo(wc *workerctx.Context) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.wc == wc
}

func (op *Operation) boundContext() *workerctx.Context {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.wc
}

// arm starts the timeout. A settled operation is never armed.
func (op *Operation) arm(budget time.Duration) {
	if budget <= 0 {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.claimed {
		return
	}
	op.timer = time.AfterFunc(budget, func() { op.expire(budget) })
}

// expire claims the operation, replaces its context and only then publishes
// the timeout, so a caller reacting to it already sees the new context.
func (op *Operation) expire(budget time.Duration) {
	if !op.claim() {
		return
	}
	err := services.Wrap(services.ErrTimeout, "bridge", string(op.kind), "operation exceeded "+budget.String(), nil)
	op.logger.Warn("operation timed out; replacing execution context",
		logging.Duration("budget", budget),
		logging.String(logging.FieldErrorKind, services.KindTimeout),
	)
	if wc := op.boundContext(); wc != nil {
		wc.Terminate(err)
	}
	op.client.replaceContext()
	op.settle(nil, err, "")
}

// claim marks the operation settled, disarms the timer and deregisters it.
// Only the first caller wins.
func (op *Operation) claim() bool {
	op.mu.Lock()
	if op.claimed {
		op.mu.Unlock()
		return false
	}
	op.claimed = true
	if op.timer != nil {
		op.timer.Stop()
	}
	op.mu.Unlock()
	op.client.forget(op)
	return true
}

// settle publishes the terminal update of a claimed operation. An empty
// message falls back to the error text.
func (op *Operation) settle(result *artifact.Result, err error, message string) {
	op.mu.Lock()
	op.result, op.err = result, err
	u := Update{
		Status:   StatusComplete,
		Progress: 100,
		Message:  "Export complete",
		Logs:     op.logs[:len(op.logs):len(op.logs)],
	}
	if err != nil {
		if message == "" {
			message = err.Error()
		}
		u = Update{
			Status:    StatusError,
			Progress:  op.progress,
			Message:   message,
			Logs:      u.Logs,
			ErrorKind: services.Classify(err),
		}
	}
	op.feed.push(u)
	op.mu.Unlock()

	elapsed := logging.Duration("elapsed", time.Since(op.started))
	if err != nil {
		op.logger.Warn("operation failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, u.ErrorKind),
			elapsed,
		)
		return
	}
	op.logger.Info("operation complete",
		logging.String("filename", result.Filename),
		logging.Int64("size", result.Size),
		elapsed,
	)
}

func (op *Operation) finish(result *artifact.Result, err error, message string) bool {
	if !op.claim() {
		return false
	}
	op.settle(result, err, message)
	return true
}
