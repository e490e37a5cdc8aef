// Package ids mints prefixed unique identifiers for versions, invocations,
// and executions.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	PrefixVersion    = "ver"
	PrefixInvocation = "inv"
	PrefixExecution  = "exe"
)

// New mints an id of the form "<prefix>-<uuid>".
func New(prefix string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate random id: %w", err)
	}
	return fmt.Sprintf("%s-%s", prefix, id.String()), nil
}

// MustNew is New but panics on entropy-source failure, for call sites that
// have no sane recovery path (crypto/rand failing indicates a broken host).
func MustNew(prefix string) string {
	id, err := New(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
