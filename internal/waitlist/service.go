package waitlist

import (
	"context"

	"pkt.systems/pslog"

	"pkt.systems/waitlist/internal/clock"
	"pkt.systems/waitlist/internal/storage"
)

// Service composes the queue manager, director, and waiter registry into
// the single collaborator the HTTP layer depends on. It owns the
// director's start/stop lifecycle.
type Service struct {
	Manager  *Manager
	Director *Director
	Registry *Registry
}

// NewService wires a Manager, Director, and Registry against store.
func NewService(store storage.Backend, clk clock.Clock, logger pslog.Logger, opts ...DirectorOption) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	registry := NewRegistry()
	director := NewDirector(store, clk, registry, opts...)
	manager := NewManager(store, clk, logger, director)
	return &Service{Manager: manager, Director: director, Registry: registry}
}

// Start runs the director's startup sweep and launches its sweep loop.
func (s *Service) Start(ctx context.Context) error {
	return s.Director.Start(ctx)
}

// Stop halts the director's sweep loop.
func (s *Service) Stop() {
	s.Director.Stop()
}

// Wait blocks until ticketUUID reaches active, expired, or finished, or
// ctx is cancelled. A ticket unknown at registration time fails with
// not-found; disconnecting (ctx cancellation) removes the waiter without
// disturbing any sibling waiter on the same ticket.
func (s *Service) Wait(ctx context.Context, ticketUUID string) (Status, error) {
	// Register before reading status: a transition that fires between the
	// read and the subscription would otherwise be missed. ResolveIfPending
	// closes that window without double-delivering if Fire won the race.
	handle := s.Registry.Register(ticketUUID, StatusQueued)
	t, err := s.Manager.Get(ctx, ticketUUID)
	if err != nil {
		s.Registry.Cancel(ticketUUID, handle)
		return "", err
	}
	if t.Status.Terminal() || t.Status == StatusActive {
		s.Registry.ResolveIfPending(ticketUUID, handle, t.Status)
	}
	status, err := handle.Wait(ctx)
	if err != nil {
		s.Registry.Cancel(ticketUUID, handle)
		return "", err
	}
	return status, nil
}
