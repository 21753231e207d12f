package domain

import "context"

// SlotPool is a resource with finite capacity (concurrent requests).
//
// Acquire blocks until a slot is free or ctx ends. On success it returns a
// release function that must be called exactly once.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
