package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"framecut/internal/bridge"
	"framecut/internal/history"
	"framecut/internal/logging"
	"framecut/internal/protocol"
	"framecut/internal/services"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type handlers struct {
	cfg    Config
	ops    *registry
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		UptimeS: int64(time.Since(h.cfg.StartTime).Seconds()),
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:      string(h.cfg.Runner.State()),
		Pending:    h.cfg.Runner.Pending(),
		Generation: h.cfg.Runner.Generation(),
		Operations: h.ops.len(),
	}
	if h.cfg.Store != nil {
		resp.Artifacts = h.cfg.Store.Len()
	}
	if h.cfg.History != nil {
		if summary, err := h.cfg.History.Summarize(r.Context()); err == nil {
			resp.History = &HistorySummary{
				Total:    summary.Total,
				Complete: summary.Complete,
				Failed:   summary.Failed,
				Bytes:    summary.Bytes,
			}
		} else {
			h.logger.Warn("history summary unavailable", logging.Error(err))
		}
	}
	if h.cfg.Checks != nil && r.URL.Query().Get("checks") == "true" {
		for _, c := range h.cfg.Checks(r.Context()) {
			resp.Checks = append(resp.Checks, CheckResponse{Name: c.Name, Passed: c.Passed, Detail: c.Detail})
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	var (
		mu   sync.Mutex
		logs []string
	)
	err := h.cfg.Runner.EnsureLoaded(r.Context(), func(u bridge.Update) {
		mu.Lock()
		logs = u.Logs
		mu.Unlock()
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if logs == nil {
		logs = []string{}
	}
	WriteJSON(w, http.StatusOK, LoadResponse{State: string(h.cfg.Runner.State()), Logs: logs})
}

func (h *handlers) submit(kind protocol.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := readForm(w, r, h.cfg.UploadDir, h.cfg.MaxUploadBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes", CodeTooLarge)
				return
			}
			if errors.Is(err, services.ErrValidation) {
				writeFailure(w, err)
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}
		cmd, err := f.command(kind)
		if err != nil {
			f.cleanup()
			writeFailure(w, err)
			return
		}

		op, err := h.cfg.Runner.Start(r.Context(), cmd, nil)
		if err != nil {
			f.cleanup()
			writeFailure(w, err)
			return
		}
		h.ops.add(op)
		go func() {
			<-op.Done()
			f.cleanup()
		}()

		base := "/operations/" + op.ID()
		WriteJSON(w, http.StatusAccepted, SubmitResponse{
			OperationID: op.ID(),
			StatusURL:   base,
			UpdatesURL:  base + "/updates",
		})
	}
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) (Operation, bool) {
	op, ok := h.ops.get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "operation not found", CodeNotFound)
	}
	return op, ok
}

func (h *handlers) operation(w http.ResponseWriter, r *http.Request) {
	op, ok := h.lookup(w, r)
	if !ok {
		return
	}
	resp := OperationResponse{
		ID:        op.ID(),
		Kind:      string(op.Kind()),
		StartedAt: op.Started().UTC().Format(time.RFC3339Nano),
	}
	if u, ok := op.Last(); ok {
		resp.Update = &u
	}
	if result, err, done := op.Outcome(); done {
		resp.Done = true
		resp.Result = result
		if err != nil {
			resp.Error = err.Error()
			resp.ErrorKind = services.Classify(err)
			resp.Retryable = services.Retryable(err)
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	op, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := op.Cancel(); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// updates streams every update of an operation as JSON text frames and closes
// normally after the terminal one. A {"action":"cancel"} frame from the client
// requests a best-effort cancel.
func (h *handlers) updates(w http.ResponseWriter, r *http.Request) {
	op, ok := h.lookup(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			var msg cancelMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Action == "cancel" {
				if err := op.Cancel(); err != nil {
					h.logger.Debug("cancel from update stream failed", logging.Error(err))
				}
			}
		}
	}()

	for u := range op.Updates(ctx) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(u); err != nil {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "operation settled"),
		time.Now().Add(wsWriteTimeout))
}

func (h *handlers) release(w http.ResponseWriter, r *http.Request) {
	n := h.cfg.Store.ReleaseID(chi.URLParam(r, "id"))
	if n == 0 {
		WriteError(w, http.StatusNotFound, "artifact not found", CodeNotFound)
		return
	}
	WriteJSON(w, http.StatusAccepted, ReleaseResponse{Released: n})
}

func (h *handlers) terminate(w http.ResponseWriter, r *http.Request) {
	h.cfg.Runner.Terminate()
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if h.cfg.History == nil {
		WriteError(w, http.StatusNotFound, "history is disabled", CodeNotSupported)
		return
	}
	q := r.URL.Query()
	filter := history.Filter{Kind: q.Get("kind"), Status: q.Get("status")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer", CodeBadRequest)
			return
		}
		filter.Limit = limit
	}
	entries, err := h.cfg.History.List(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list history", CodeInternal)
		return
	}
	resp := HistoryResponse{Entries: make([]HistoryEntry, len(entries))}
	for i, e := range entries {
		resp.Entries[i] = historyEntry(e)
	}
	WriteJSON(w, http.StatusOK, resp)
}
