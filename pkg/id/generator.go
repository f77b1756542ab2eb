package id

import (
	"github.com/google/uuid"
)

// NewPlanID returns an identifier for one plan version. Version 7 UUIDs
// sort by creation time.
func NewPlanID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewLineageID returns an identifier for a new lineage.
func NewLineageID() string {
	return uuid.New().String()
}

// NewRequestID returns a short identifier used to correlate the logs and
// events of a single planning request.
func NewRequestID() string {
	return uuid.New().String()[:8]
}
