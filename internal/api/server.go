package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"framecut/internal/artifact"
	"framecut/internal/bridge"
	"framecut/internal/history"
	"framecut/internal/logging"
	"framecut/internal/preflight"
	"framecut/internal/protocol"
	"framecut/internal/session"
)

// Version is reported by /health.
var Version = "dev"

const shutdownTimeout = 5 * time.Second

// Operation is the view of a submitted command the HTTP layer needs.
type Operation interface {
	ID() string
	Kind() protocol.Kind
	Started() time.Time
	Done() <-chan struct{}
	Last() (bridge.Update, bool)
	Outcome() (*artifact.Result, error, bool)
	Updates(ctx context.Context) <-chan bridge.Update
	Cancel() error
}

// Runner is the bridge surface served over HTTP.
type Runner interface {
	State() session.State
	Pending() int
	Generation() uint64
	EnsureLoaded(ctx context.Context, onUpdate bridge.UpdateFunc) error
	Start(ctx context.Context, cmd bridge.Command, onUpdate bridge.UpdateFunc) (Operation, error)
	Terminate()
}

// HistoryReader is the read side of the export ledger.
type HistoryReader interface {
	List(ctx context.Context, f history.Filter) ([]history.Entry, error)
	Summarize(ctx context.Context) (history.Summary, error)
}

// Config wires the router.
type Config struct {
	Runner  Runner
	Store   *artifact.Store
	History HistoryReader
	// Checks returns readiness results for /status; nil omits them.
	Checks func(ctx context.Context) []preflight.Result
	// UploadDir receives streamed uploads until their operation settles.
	UploadDir         string
	MaxUploadBytes    int64
	RequestsPerMinute int
	Burst             int
	Logger            *slog.Logger
	StartTime         time.Time
}

// FromClient adapts a bridge client to Runner.
func FromClient(c *bridge.Client) Runner {
	return clientRunner{c}
}

type clientRunner struct {
	*bridge.Client
}

func (r clientRunner) Start(ctx context.Context, cmd bridge.Command, onUpdate bridge.UpdateFunc) (Operation, error) {
	op, err := r.Client.Start(ctx, cmd, onUpdate)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg Config) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	h := &handlers{
		cfg:    cfg,
		ops:    newRegistry(defaultRegistryLimit),
		logger: logging.NewComponentLogger(cfg.Logger, "api"),
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(LoggingMiddleware(h.logger))

	r.Get("/health", h.health)
	r.Get("/status", h.status)
	r.Get("/history", h.history)
	r.Get("/operations/{id}", h.operation)
	r.Get("/operations/{id}/updates", h.updates)
	r.Post("/operations/{id}/cancel", h.cancel)
	if cfg.Store != nil {
		r.Get(artifact.PathPrefix+"*", cfg.Store.ServeHTTP)
		r.Head(artifact.PathPrefix+"*", cfg.Store.ServeHTTP)
		r.Delete(artifact.PathPrefix+"{id}", h.release)
	}

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(NewLimiter(cfg.RequestsPerMinute, cfg.Burst)))
		r.Post("/load", h.load)
		r.Post("/trim", h.submit(protocol.KindTrim))
		r.Post("/frames", h.submit(protocol.KindFrames))
		r.Post("/convert", h.submit(protocol.KindConvert))
		r.Post("/merge", h.submit(protocol.KindMerge))
		r.Post("/terminate", h.terminate)
	})

	return r
}

// Server runs the router on a listener.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer wraps handler in an http.Server.
func NewServer(handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "api"),
	}
}

// Serve accepts connections on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", logging.String("addr", ln.Addr().String()))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
