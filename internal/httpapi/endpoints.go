package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"pkt.systems/waitlist/api"
	"pkt.systems/waitlist/internal/waitlist"
)

func (h *Handler) handleCreate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	server := r.PathValue("server")
	if server == "" {
		return httpError{Status: http.StatusBadRequest, Code: waitlist.CodeInvalidArgument, Detail: "server required"}
	}
	var req api.CreateTicketRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: waitlist.CodeInvalidArgument, Detail: "malformed request body: " + err.Error()}
	}

	uuid, queue, err := h.svc.Manager.Create(ctx, waitlist.CreateParams{
		ServerUUID: server,
		Scope:      req.Scope,
		ID:         req.ID,
		ExpiresAt:  req.ExpiresAt,
		Action:     req.Action,
		Extra:      req.Extra,
	})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusAccepted, api.CreateTicketResponse{UUID: uuid, Queue: queue}, nil)
	return nil
}

func (h *Handler) handleGet(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	uuid := r.PathValue("uuid")
	t, err := h.svc.Manager.Get(ctx, uuid)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, ticketToAPI(t), nil)
	return nil
}

func (h *Handler) handleDelete(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	uuid := r.PathValue("uuid")
	if err := h.svc.Manager.Delete(ctx, uuid); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleDeleteAll(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	server := r.PathValue("server")
	force := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("force")), "true")
	if !force {
		return httpError{Status: http.StatusPreconditionFailed, Code: waitlist.CodePreconditionFail, Detail: "force=true required"}
	}
	if err := h.svc.Manager.DeleteAll(ctx, server, true); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleList(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	server := r.PathValue("server")
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		return err
	}
	attribute := strings.TrimSpace(r.URL.Query().Get("attribute"))
	order := strings.TrimSpace(r.URL.Query().Get("order"))

	tickets, err := h.svc.Manager.List(ctx, waitlist.ListParams{
		ServerUUID: server,
		Limit:      limit,
		Offset:     offset,
		Attribute:  attribute,
		Order:      order,
	})
	if err != nil {
		return err
	}
	out := make([]api.Ticket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketToAPI(t))
	}
	h.writeJSON(w, http.StatusOK, out, nil)
	return nil
}

func (h *Handler) handleWait(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	uuid := r.PathValue("uuid")
	if _, err := h.svc.Wait(ctx, uuid); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) handleRelease(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	uuid := r.PathValue("uuid")
	if err := h.svc.Manager.Release(ctx, uuid); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleStats serves the supplemental per-queue statistics endpoint,
// grounded on the director's sweep-time partitioning of tickets into
// queues.
func (h *Handler) handleStats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	server := r.PathValue("server")
	tickets, err := h.svc.Manager.List(ctx, waitlist.ListParams{ServerUUID: server, Limit: waitlist.DefaultListLimit})
	if err != nil {
		return err
	}

	type agg struct {
		queued, active, total int
	}
	byQueue := map[[2]string]*agg{}
	var order [][2]string
	for _, t := range tickets {
		if t.Status != waitlist.StatusQueued && t.Status != waitlist.StatusActive {
			continue
		}
		key := [2]string{t.Scope, t.ID}
		a, ok := byQueue[key]
		if !ok {
			a = &agg{}
			byQueue[key] = a
			order = append(order, key)
		}
		a.total++
		switch t.Status {
		case waitlist.StatusQueued:
			a.queued++
		case waitlist.StatusActive:
			a.active++
		}
	}

	resp := api.ServerStatsResponse{ServerUUID: server}
	for _, key := range order {
		a := byQueue[key]
		resp.Queues = append(resp.Queues, api.QueueStats{
			Scope:  key[0],
			ID:     key[1],
			Queued: a.queued,
			Active: a.active,
			Total:  a.total,
		})
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}
