// Package versionref resolves symbolic version references ("latest" or a
// concrete version id) to a concrete version id.
package versionref

import (
	"context"

	"github.com/fnplane/controlplane/internal/domain"
)

// LatestLookup is the subset of the Store's Versions API needed to resolve
// "latest". store.VersionStore satisfies it, and so does any one-method
// stub, which is what this package's tests pass.
type LatestLookup interface {
	GetIDOfLatest(ctx context.Context, project string) (string, error)
}

// Resolve returns the concrete version id for ref, which is either
// domain.Latest or an already-concrete version id.
func Resolve(ctx context.Context, lookup LatestLookup, project, ref string) (string, error) {
	if ref == domain.Latest {
		return lookup.GetIDOfLatest(ctx, project)
	}
	return ref, nil
}
