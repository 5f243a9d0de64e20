package model

import "time"

// ProjectionCheckpoint is the monotonic cursor of one downstream projection.
type ProjectionCheckpoint struct {
	ProjectionName string    `db:"projection_name"`
	Position       int64     `db:"last_processed_position"`
	ProcessedAt    time.Time `db:"last_processed_at"`
}
