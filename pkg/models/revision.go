package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Revision is one append-only captured content snapshot for a tracker.
type Revision struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	TrackerID uuid.UUID       `json:"trackerId" db:"tracker_id"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	Data      json.RawMessage `json:"data" db:"data"`
}
