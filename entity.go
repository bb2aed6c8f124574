package voxpipe

import "time"

// Entity carries the bookkeeping fields shared by all persisted records:
// creation and update timestamps plus an optimistic-concurrency version.
// Stores bump Version on every successful update and reject writes whose
// version no longer matches the stored row.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewEntity returns an Entity stamped with the current UTC time and
// version 1.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Touch updates the UpdatedAt timestamp and bumps the version. Stores call
// this after a mutator succeeds, just before persisting.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
	e.Version++
}
