// Package actor carries the acting user of a request through context.Context.
package actor

import (
	"context"
	"errors"
)

// ErrNoActor is returned when no actor is attached to the context.
var ErrNoActor = errors.New("actor: no actor in context")

// Actor is the user on whose behalf a write happens.
type Actor struct {
	ID            int64
	Authenticated bool
}

// Supplier resolves the current actor for a write.
type Supplier interface {
	CurrentActor(ctx context.Context) (Actor, error)
}

// SupplierFunc adapts an ordinary function to Supplier.
type SupplierFunc func(ctx context.Context) (Actor, error)

func (f SupplierFunc) CurrentActor(ctx context.Context) (Actor, error) { return f(ctx) }

type contextKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the actor carried by ctx.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

// ContextSupplier returns a Supplier reading the actor set by WithActor.
func ContextSupplier() Supplier {
	return SupplierFunc(func(ctx context.Context) (Actor, error) {
		a, ok := FromContext(ctx)
		if !ok {
			return Actor{}, ErrNoActor
		}
		return a, nil
	})
}
