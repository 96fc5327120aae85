package waitlist

import (
	"encoding/json"
	"time"
)

// Status is a ticket's position in its state machine.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusFinished Status = "finished"
)

// Terminal reports whether status never transitions again.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusFinished
}

// Ticket is the persisted record backing one queue slot. Tickets are
// encoded/decoded verbatim into the store; the queue manager and director
// are the only writers.
type Ticket struct {
	UUID       string         `json:"uuid"`
	ServerUUID string         `json:"server_uuid"`
	Scope      string         `json:"scope"`
	ID         string         `json:"id"`
	Status     Status         `json:"status"`
	Action     string         `json:"action,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	ReqID      string         `json:"req_id,omitempty"`
	ETag       string         `json:"etag,omitempty"`
}

// queueKey identifies the queue a ticket belongs to.
type queueKey struct {
	ServerUUID string
	Scope      string
	ID         string
}

func (t Ticket) queueKey() queueKey {
	return queueKey{ServerUUID: t.ServerUUID, Scope: t.Scope, ID: t.ID}
}

// before orders tickets by (created_at, uuid) ascending, the tie-break the
// queue and director both rely on.
func (t Ticket) before(o Ticket) bool {
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	return t.UUID < o.UUID
}

func encodeTicket(t Ticket) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTicket(b []byte) (Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(b, &t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}
