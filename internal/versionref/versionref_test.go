package versionref

import (
	"context"
	"errors"
	"testing"

	"github.com/fnplane/controlplane/internal/domain"
)

type stubLookup struct {
	id  string
	err error
}

func (s stubLookup) GetIDOfLatest(ctx context.Context, project string) (string, error) {
	return s.id, s.err
}

func TestResolveLatestDelegatesToLookup(t *testing.T) {
	id, err := Resolve(context.Background(), stubLookup{id: "ver-1"}, "proj1", domain.Latest)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "ver-1" {
		t.Fatalf("expected ver-1, got %s", id)
	}
}

func TestResolveConcreteRefPassesThrough(t *testing.T) {
	id, err := Resolve(context.Background(), stubLookup{id: "should-not-be-used"}, "proj1", "ver-2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "ver-2" {
		t.Fatalf("expected ver-2 to pass through unchanged, got %s", id)
	}
}

func TestResolveLatestPropagatesLookupError(t *testing.T) {
	wantErr := errors.New("no versions")
	_, err := Resolve(context.Background(), stubLookup{err: wantErr}, "proj1", domain.Latest)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected lookup error to propagate, got %v", err)
	}
}
