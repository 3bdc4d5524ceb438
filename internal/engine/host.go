package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"framecut/internal/fileutil"
	"framecut/internal/logging"
	"framecut/internal/protocol"
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Options configures a Host.
type Options struct {
	// Scratch is the directory the bridge stages inputs in and reads outputs
	// from.
	Scratch string
	Runner  Runner
	Logger  *slog.Logger
}

// Host serves protocol requests for one execution context.
type Host struct {
	scratch string
	runner  Runner
	logger  *slog.Logger
	enc     *protocol.Encoder

	mu     sync.Mutex
	loaded bool
	jobs   map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost validates the scratch directory.
func NewHost(opts Options) (*Host, error) {
	if opts.Scratch == "" {
		return nil, errors.New("engine: scratch directory is required")
	}
	scratch, err := filepath.Abs(opts.Scratch)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve scratch: %w", err)
	}
	info, err := os.Stat(scratch)
	if err != nil {
		return nil, fmt.Errorf("engine: scratch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("engine: scratch %s is not a directory", scratch)
	}
	return &Host{
		scratch: scratch,
		runner:  opts.Runner,
		logger:  logging.NewComponentLogger(opts.Logger, "engine"),
		jobs:    make(map[string]context.CancelFunc),
	}, nil
}

// Serve reads requests from in and writes events to out until in is closed or
// ctx ends. Running commands are cancelled and awaited before it returns.
func (h *Host) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	h.enc = protocol.NewEncoder(out)
	dec := protocol.NewDecoder(in)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		h.wg.Wait()
	}()

	for {
		msg, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.logger.Debug("request stream closed")
				return nil
			}
			if errors.Is(err, protocol.ErrMalformed) {
				h.logger.Warn("ignoring malformed request", logging.Error(err))
				continue
			}
			return fmt.Errorf("read request: %w", err)
		}

		switch msg.Type {
		case protocol.TypeLoad:
			h.load(ctx, msg.ID)
		case protocol.TypeExecute:
			h.execute(ctx, msg)
		case protocol.TypeCancel:
			h.cancel(msg.ID)
		default:
			h.logger.Warn("unexpected request", logging.String("type", string(msg.Type)))
		}
	}
}

func (h *Host) send(msg protocol.Message) {
	if err := h.enc.Send(msg); err != nil {
		h.logger.Warn("event not delivered",
			logging.String("type", string(msg.Type)),
			logging.Error(err),
		)
	}
}

// load verifies the binaries and the scratch directory. Loading twice is a
// no-op.
func (h *Host) load(ctx context.Context, id string) {
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()
	if loaded {
		h.send(protocol.Message{Type: protocol.TypeLoaded, ID: id})
		return
	}

	h.send(protocol.Log(id, "locating core"))
	for _, binary := range []string{h.runner.ffmpeg(), h.runner.ffprobe()} {
		if _, err := lookPath(binary); err != nil {
			h.send(protocol.Failure(id, fmt.Sprintf("%s not found: %v", binary, err)))
			return
		}
	}

	h.send(protocol.Log(id, "probing binary"))
	version, err := h.runner.Version(ctx)
	if err != nil {
		h.send(protocol.Failure(id, err.Error()))
		return
	}
	h.send(protocol.Log(id, version))

	h.send(protocol.Log(id, "initializing"))
	if err := os.MkdirAll(filepath.Join(h.scratch, "out"), 0o755); err != nil {
		h.send(protocol.Failure(id, fmt.Sprintf("prepare output directory: %v", err)))
		return
	}

	h.mu.Lock()
	h.loaded = true
	h.mu.Unlock()
	h.logger.Info("engine loaded", logging.String("version", version))
	h.send(protocol.Message{Type: protocol.TypeLoaded, ID: id})
}

func (h *Host) execute(ctx context.Context, msg protocol.Message) {
	id, req := msg.ID, *msg.Execute
	if err := h.checkInputs(req); err != nil {
		h.send(protocol.Failure(id, err.Error()))
		return
	}

	h.mu.Lock()
	if !h.loaded {
		h.mu.Unlock()
		h.send(protocol.Failure(id, "engine not loaded"))
		return
	}
	if _, dup := h.jobs[id]; dup {
		h.mu.Unlock()
		h.send(protocol.Failure(id, "duplicate request id "+id))
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	h.jobs[id] = cancel
	h.wg.Add(1)
	h.mu.Unlock()

	logger := h.logger.With(
		logging.String(logging.FieldRequestID, id),
		logging.String(logging.FieldOperation, string(req.Kind)),
	)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.jobs, id)
			h.mu.Unlock()
			cancel()
		}()

		out, err := h.run(jobCtx, id, req)
		h.removeInputs(req)
		if err != nil {
			message := err.Error()
			if jobCtx.Err() != nil {
				message = "operation canceled"
			}
			logger.Warn("command failed", logging.String("message", message))
			h.send(protocol.Failure(id, message))
			return
		}
		logger.Info("command complete")
		h.send(protocol.Complete(id, out))
	}()
}

func (h *Host) run(ctx context.Context, id string, req protocol.Execute) (protocol.Output, error) {
	outDir := protocol.OutputDir(h.scratch, id)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return protocol.Output{}, fmt.Errorf("create output directory: %w", err)
	}
	j := &job{
		id:     id,
		req:    req,
		outDir: outDir,
		runner: h.runner,
		progress: func(percent float64, step string) {
			h.send(protocol.Progress(id, percent, step, ""))
		},
		log: func(line string) {
			h.send(protocol.Log(id, line))
		},
	}
	out, err := j.run(ctx)
	if err != nil {
		_ = os.RemoveAll(outDir)
	}
	return out, err
}

func (h *Host) cancel(id string) {
	h.mu.Lock()
	cancel, ok := h.jobs[id]
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("cancel for unknown request", logging.String(logging.FieldRequestID, id))
		return
	}
	h.logger.Info("cancelling command", logging.String(logging.FieldRequestID, id))
	cancel()
}

// checkInputs refuses paths outside the inputs directory.
func (h *Host) checkInputs(req protocol.Execute) error {
	inputs := protocol.InputsDir(h.scratch)
	for _, path := range inputPaths(req) {
		if _, err := fileutil.Within(inputs, path); err != nil {
			return fmt.Errorf("rejected input: %w", err)
		}
	}
	return nil
}

// removeInputs deletes staged inputs; failures are ignored.
func (h *Host) removeInputs(req protocol.Execute) {
	for _, path := range inputPaths(req) {
		_ = os.Remove(path)
	}
}

func inputPaths(req protocol.Execute) []string {
	if req.Kind == protocol.KindMerge {
		paths := make([]string, 0, len(req.Clips))
		for _, clip := range req.Clips {
			paths = append(paths, clip.Path)
		}
		return paths
	}
	return []string{req.Input}
}
