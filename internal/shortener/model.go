package shortener

import (
	"time"

	"github.com/google/uuid"
)

// URLRecord is one short code and what it points at. Only Clicks ever changes.
// The JSON form is what the owner listing cache stores.
type URLRecord struct {
	Code      string     `json:"code"`
	LongURL   string     `json:"long_url"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	Clicks    int64      `json:"clicks"`
	CreatedAt time.Time  `json:"created_at"`
}

// Resolved is what a counted lookup yields: enough to redirect and to know
// whose listing went stale.
type Resolved struct {
	LongURL string
	OwnerID *uuid.UUID
}
