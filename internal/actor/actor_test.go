package actor

import (
	"context"
	"errors"
	"testing"
)

func TestContextSupplier(t *testing.T) {
	s := ContextSupplier()

	if _, err := s.CurrentActor(context.Background()); !errors.Is(err, ErrNoActor) {
		t.Errorf("expected ErrNoActor, got %v", err)
	}

	ctx := WithActor(context.Background(), Actor{ID: 7, Authenticated: true})
	a, err := s.CurrentActor(ctx)
	if err != nil {
		t.Fatalf("CurrentActor failed: %v", err)
	}
	if a.ID != 7 || !a.Authenticated {
		t.Errorf("unexpected actor: %+v", a)
	}
}

func TestFromContext_Overwrite(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: 1})
	ctx = WithActor(ctx, Actor{ID: 2, Authenticated: true})

	a, ok := FromContext(ctx)
	if !ok || a.ID != 2 {
		t.Errorf("expected innermost actor, got %+v (ok=%v)", a, ok)
	}
}

func TestSupplierFunc(t *testing.T) {
	calls := 0
	s := SupplierFunc(func(ctx context.Context) (Actor, error) {
		calls++
		return Actor{ID: 3}, nil
	})
	a, _ := s.CurrentActor(context.Background())
	if calls != 1 || a.ID != 3 {
		t.Errorf("SupplierFunc not invoked: calls=%d actor=%+v", calls, a)
	}
}
