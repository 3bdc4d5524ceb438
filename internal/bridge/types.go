package bridge

import (
	"context"
	"log/slog"
	"time"

	"framecut/internal/artifact"
	"framecut/internal/history"
	"framecut/internal/workerctx"
)

// Status is the coarse state carried by every Update.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Update is pushed to the caller after every state change.
type Update struct {
	Status    Status   `json:"status"`
	Progress  float64  `json:"progress"`
	Message   string   `json:"message"`
	Logs      []string `json:"logs"`
	ErrorKind string   `json:"error_kind,omitempty"`
}

// Terminal reports whether u is the last update of an operation.
func (u Update) Terminal() bool {
	return u.Status == StatusComplete || u.Status == StatusError
}

// UpdateFunc receives updates in emission order from a single goroutine. It
// must not block for long; Wait returns only after the terminal update has
// been delivered.
type UpdateFunc func(Update)

// Quality is a coarse convert quality tier.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// DefaultQualityTable maps tiers onto the encoder's CRF scale, where lower is
// better.
func DefaultQualityTable() map[Quality]int {
	return map[Quality]int{
		QualityLow:    40,
		QualityMedium: 32,
		QualityHigh:   24,
	}
}

// DefaultTimeout is the wall-clock budget of one operation.
const DefaultTimeout = 5 * time.Minute

// Recorder persists terminal outcomes.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Options configures a Client.
type Options struct {
	Worker workerctx.Config
	// Timeout bounds each operation from dispatch to its terminal event.
	Timeout time.Duration
	// LoadTimeout bounds one engine load; zero means no limit.
	LoadTimeout time.Duration
	// Quality overrides DefaultQualityTable entry by entry.
	Quality map[Quality]int
	// Capability verifies the runtime the engine needs before any load.
	Capability func() error
	// Store receives addressable URLs for results; nil leaves URLs empty.
	Store    *artifact.Store
	Recorder Recorder
	Logger   *slog.Logger
}
