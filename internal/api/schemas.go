package api

import (
	"time"

	"framecut/internal/artifact"
	"framecut/internal/bridge"
	"framecut/internal/history"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

// StatusResponse summarizes the bridge.
type StatusResponse struct {
	State      string          `json:"state"`
	Pending    int             `json:"pending"`
	Generation uint64          `json:"generation"`
	Artifacts  int             `json:"artifacts"`
	Operations int             `json:"operations"`
	History    *HistorySummary `json:"history,omitempty"`
	Checks     []CheckResponse `json:"checks,omitempty"`
}

// HistorySummary mirrors history.Summary.
type HistorySummary struct {
	Total    int   `json:"total"`
	Complete int   `json:"complete"`
	Failed   int   `json:"failed"`
	Bytes    int64 `json:"bytes"`
}

// CheckResponse is one readiness check result.
type CheckResponse struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// LoadResponse reports the state after an explicit load.
type LoadResponse struct {
	State string   `json:"state"`
	Logs  []string `json:"logs"`
}

// SubmitResponse acknowledges a submitted command.
type SubmitResponse struct {
	OperationID string `json:"operation_id"`
	StatusURL   string `json:"status_url"`
	UpdatesURL  string `json:"updates_url"`
}

// OperationResponse is the snapshot of one operation.
type OperationResponse struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	StartedAt string           `json:"started_at"`
	Done      bool             `json:"done"`
	Update    *bridge.Update   `json:"update,omitempty"`
	Result    *artifact.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
}

// ReleaseResponse reports how many blobs were scheduled for release.
type ReleaseResponse struct {
	Released int `json:"released"`
}

// HistoryResponse lists recorded outcomes, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// HistoryEntry is the transport form of history.Entry.
type HistoryEntry struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Filename   string `json:"filename,omitempty"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

// cancelMessage is the only message accepted from update stream clients.
type cancelMessage struct {
	Action string `json:"action"`
}

func historyEntry(e history.Entry) HistoryEntry {
	return HistoryEntry{
		ID:         e.ID,
		Kind:       e.Kind,
		Filename:   e.Filename,
		Size:       e.Size,
		Status:     e.Status,
		ErrorKind:  e.ErrorKind,
		Error:      e.Error,
		DurationMS: e.Duration.Milliseconds(),
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
