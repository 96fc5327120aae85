package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pkt.systems/waitlist/api"
	"pkt.systems/waitlist/internal/clock"
	"pkt.systems/waitlist/internal/storage/memory"
	"pkt.systems/waitlist/internal/waitlist"
)

func newTestHandler(t *testing.T) (*Handler, *waitlist.Service, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := waitlist.NewService(memory.New(), clk, nil)
	return New(svc, nil), svc, clk
}

func TestCreateThenGet(t *testing.T) {
	h, _, clk := newTestHandler(t)
	mux := h.Mux()

	body, _ := json.Marshal(api.CreateTicketRequest{
		Scope:     "vm",
		ID:        "A",
		ExpiresAt: clk.Now().Add(time.Minute),
	})
	req := httptest.NewRequest(http.MethodPost, "/servers/s1/tickets", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created api.CreateTicketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.UUID == "" || len(created.Queue) != 1 {
		t.Fatalf("unexpected create response: %+v", created)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/tickets/"+created.UUID, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	var ticket api.Ticket
	if err := json.Unmarshal(getRec.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.Scope != "vm" || ticket.ID != "A" || ticket.Status != "queued" {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
}

func TestForceDeleteRequiresFlag(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := h.Mux()

	req := httptest.NewRequest(http.MethodDelete, "/servers/s1/tickets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 without force, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/servers/s1/tickets?force=true", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with force, got %d", rec.Code)
	}
}

func TestWaitOnUnknownTicketReturns404(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := h.Mux()

	req := httptest.NewRequest(http.MethodGet, "/tickets/not-a-real-uuid/wait", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWaitResolvesAfterSweep(t *testing.T) {
	h, svc, clk := newTestHandler(t)
	mux := h.Mux()

	body, _ := json.Marshal(api.CreateTicketRequest{Scope: "vm", ID: "A", ExpiresAt: clk.Now().Add(time.Minute)})
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/servers/s1/tickets", bytes.NewReader(body)))
	var created api.CreateTicketResponse
	json.Unmarshal(createRec.Body.Bytes(), &created)

	waitDone := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tickets/"+created.UUID+"/wait", nil))
		waitDone <- rec.Code
	}()

	time.Sleep(10 * time.Millisecond)
	if err := svc.Director.Sweep(httptest.NewRequest(http.MethodGet, "/", nil).Context()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	select {
	case code := <-waitDone:
		if code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait endpoint never resolved")
	}
}

func TestReleaseThenGetReturnsFinished(t *testing.T) {
	h, _, clk := newTestHandler(t)
	mux := h.Mux()

	body, _ := json.Marshal(api.CreateTicketRequest{Scope: "vm", ID: "A", ExpiresAt: clk.Now().Add(time.Minute)})
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/servers/s1/tickets", bytes.NewReader(body)))
	var created api.CreateTicketResponse
	json.Unmarshal(createRec.Body.Bytes(), &created)

	relRec := httptest.NewRecorder()
	mux.ServeHTTP(relRec, httptest.NewRequest(http.MethodPut, "/tickets/"+created.UUID+"/release", nil))
	if relRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", relRec.Code)
	}

	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/tickets/"+created.UUID, nil))
	var ticket api.Ticket
	json.Unmarshal(getRec.Body.Bytes(), &ticket)
	if ticket.Status != "finished" {
		t.Fatalf("expected finished, got %s", ticket.Status)
	}
}
