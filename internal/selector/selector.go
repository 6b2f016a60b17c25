// Package selector provides a small atomically-swappable reference,
// used for the gateway's "active rate limiter" and "active load balancer"
// selectors. Readers always observe a consistent instance; swaps are
// atomic with respect to in-flight selection.
package selector

import "sync/atomic"

// Ref holds a value of type T that can be swapped atomically. Readers via
// Load always see a fully-formed value, never a partial write.
type Ref[T any] struct {
	p atomic.Pointer[T]
}

// NewRef builds a Ref initialized to v.
func NewRef[T any](v T) *Ref[T] {
	r := &Ref[T]{}
	r.Store(v)
	return r
}

// Store atomically replaces the held value.
func (r *Ref[T]) Store(v T) {
	r.p.Store(&v)
}

// Load returns the currently held value.
func (r *Ref[T]) Load() T {
	return *r.p.Load()
}
