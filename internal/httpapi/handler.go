// Package httpapi adapts HTTP requests onto the waitlist queue manager
// and director. Adapters here do no waitlist logic: validation failures,
// not-found, conflicts, and missing flags are mapped onto a httpError, a
// cancelled request (client disconnect) ends with 204, and everything else,
// store errors included, is wrapped as internal.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/waitlist/api"
	"pkt.systems/waitlist/internal/uuidv7"
	"pkt.systems/waitlist/internal/waitlist"
)

const headerCorrelationID = "X-Req-Id"

// Handler wires HTTP endpoints to the waitlist service.
type Handler struct {
	svc    *waitlist.Service
	logger pslog.Logger
}

// New constructs a Handler.
func New(svc *waitlist.Service, logger pslog.Logger) *Handler {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Handler{svc: svc, logger: logger.With("svc", "waitlist.http")}
}

// Mux builds the HTTP routing table. Go's 1.22+ enhanced ServeMux
// (method + pattern + PathValue) is the whole of the routing layer; the
// teacher itself uses no third-party router, so stdlib suffices here too.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("GET /readyz", h.wrap("readyz", h.handleReady))
	mux.Handle("GET /servers/{server}/tickets", h.wrap("list", h.handleList))
	mux.Handle("POST /servers/{server}/tickets", h.wrap("create", h.handleCreate))
	mux.Handle("DELETE /servers/{server}/tickets", h.wrap("delete_all", h.handleDeleteAll))
	mux.Handle("GET /servers/{server}/tickets/stats", h.wrap("stats", h.handleStats))
	mux.Handle("GET /tickets/{uuid}", h.wrap("get", h.handleGet))
	mux.Handle("DELETE /tickets/{uuid}", h.wrap("delete", h.handleDelete))
	mux.Handle("GET /tickets/{uuid}/wait", h.wrap("wait", h.handleWait))
	mux.Handle("PUT /tickets/{uuid}/release", h.wrap("release", h.handleRelease))
	return mux
}

type handlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// wrap applies request-scoped logging and uniform error handling around
// each endpoint.
func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuidv7.NewString()
		logger := h.logger.With("op", operation, "req_id", reqID, "method", r.Method, "path", r.URL.Path)
		ctx := pslog.ContextWithLogger(r.Context(), logger)
		w.Header().Set(headerCorrelationID, reqID)

		logger.Trace("http.request.start")
		if err := fn(ctx, w, r); err != nil {
			h.handleError(ctx, w, err)
			return
		}
		logger.Debug("http.request.done", "elapsed_ms", time.Since(start).Milliseconds())
	})
}

// httpError is the HTTP-aware error type adapters return; nothing above
// this package inspects its fields.
type httpError struct {
	Status int
	Code   string
	Detail string
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

// convertFailure maps a waitlist.Failure (or any other error) onto an
// httpError. No waitlist logic lives here: the mapping is a fixed table
// from core error code to HTTP status.
func convertFailure(err error) httpError {
	var httpErr httpError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var f waitlist.Failure
	if errors.As(err, &f) {
		status := http.StatusInternalServerError
		switch f.Code {
		case waitlist.CodeInvalidArgument:
			status = http.StatusBadRequest
		case waitlist.CodeNotFound:
			status = http.StatusNotFound
		case waitlist.CodeConflict:
			status = http.StatusConflict
		case waitlist.CodePreconditionFail:
			status = http.StatusPreconditionFailed
		case waitlist.CodeStoreUnavailable, waitlist.CodeInternal:
			return httpError{Status: http.StatusInternalServerError, Code: waitlist.CodeInternal, Detail: f.Detail}
		}
		return httpError{Status: status, Code: f.Code, Detail: f.Detail}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return httpError{Status: http.StatusNoContent, Code: "cancelled", Detail: "client disconnected"}
	}
	return httpError{Status: http.StatusInternalServerError, Code: "internal", Detail: err.Error()}
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	httpErr := convertFailure(err)
	if httpErr.Status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	logger.Debug("http.request.failure", "status", httpErr.Status, "code", httpErr.Code, "detail", httpErr.Detail)
	h.writeJSON(w, httpErr.Status, api.ErrorResponse{ErrorCode: httpErr.Code, Detail: httpErr.Detail}, nil)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) handleHealth(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleReady(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

func ticketToAPI(t waitlist.Ticket) api.Ticket {
	return api.Ticket{
		UUID:       t.UUID,
		ServerUUID: t.ServerUUID,
		Scope:      t.Scope,
		ID:         t.ID,
		Status:     string(t.Status),
		Action:     t.Action,
		Extra:      t.Extra,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
		ExpiresAt:  t.ExpiresAt,
		ReqID:      t.ReqID,
		ETag:       t.ETag,
	}
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, httpError{Status: http.StatusBadRequest, Code: waitlist.CodeInvalidArgument, Detail: "limit must be a positive integer"}
		}
		limit = v
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, httpError{Status: http.StatusBadRequest, Code: waitlist.CodeInvalidArgument, Detail: "offset must be a non-negative integer"}
		}
		offset = v
	}
	return limit, offset, nil
}
