// Package waitlist is a distributed coordination primitive for a
// compute-node control-plane: it serializes conflicting operations
// against scoped resources on a fleet of servers so that, for any given
// (server, scope, id) triple, at most one caller holds an active ticket
// at a time while the rest wait in FIFO order.
package waitlist
