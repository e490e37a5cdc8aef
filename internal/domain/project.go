// Package domain holds the plain data types shared by the Store, the
// classifiers, and the reconciler: Project, Version, Function, Invocation,
// and Execution, plus their polymorphic JSON-column payloads.
package domain

import "time"

// Project is the top-level ownership root. Name is the primary key.
type Project struct {
	Name                string     `json:"name"`
	CreationTime        time.Time  `json:"creation_time"`
	DeletionRequestTime *time.Time `json:"deletion_request_time,omitempty"`
}

// MarkedForDeletion reports whether deletion has been requested.
func (p Project) MarkedForDeletion() bool {
	return p.DeletionRequestTime != nil
}
