// Package api defines the JSON request/response bodies exchanged across
// the waitlist HTTP surface.
package api

import "time"

// CreateTicketRequest models the JSON payload for POST /servers/{server}/tickets.
type CreateTicketRequest struct {
	// Scope partitions the queue space, e.g. "vm" or "image".
	Scope string `json:"scope"`
	// ID identifies the resource within Scope.
	ID string `json:"id"`
	// ExpiresAt is an ISO-8601 timestamp; it must be strictly in the future.
	ExpiresAt time.Time `json:"expires_at"`
	// Action is informational: what the holder intends to do.
	Action string `json:"action,omitempty"`
	// Extra is client metadata preserved verbatim on the ticket.
	Extra map[string]any `json:"extra,omitempty"`
}

// CreateTicketResponse is returned 202 Accepted from ticket creation.
type CreateTicketResponse struct {
	// UUID is the newly created ticket's id.
	UUID string `json:"uuid"`
	// Queue lists every non-terminal ticket uuid sharing this scope/id,
	// ordered head-first.
	Queue []string `json:"queue"`
}

// Ticket is the wire representation of a waitlist ticket.
type Ticket struct {
	UUID       string         `json:"uuid"`
	ServerUUID string         `json:"server_uuid"`
	Scope      string         `json:"scope"`
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Action     string         `json:"action,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	ReqID      string         `json:"req_id,omitempty"`
	ETag       string         `json:"etag,omitempty"`
}

// QueueStats summarizes a single (server, scope, id) queue; this is the
// supplemental endpoint grounded on the director's sweep statistics.
type QueueStats struct {
	Scope  string `json:"scope"`
	ID     string `json:"id"`
	Queued int    `json:"queued"`
	Active int    `json:"active"`
	Total  int    `json:"total"`
}

// ServerStatsResponse is returned from GET /servers/{server}/tickets/stats.
type ServerStatsResponse struct {
	ServerUUID string       `json:"server_uuid"`
	Queues     []QueueStats `json:"queues"`
}

// ErrorResponse is the JSON body written for any non-2xx response.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Detail    string `json:"detail,omitempty"`
}
